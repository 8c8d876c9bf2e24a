package kmysql

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	kerrors "github.com/karu-codes/kmysql/errors"
)

// Conn holds one leased wire connection and a reference to its owning
// Pool. It exposes query, queryRow, exec, beginTxn, close — the same
// query surface as Pool and Txn, but over a single pinned connection that
// outlives any one statement.
type Conn struct {
	pool  *Pool
	lease *wireLease

	closed    atomic.Bool
	closeOnce sync.Once
}

// Query returns the live stream with keepOpen=true: this connection
// outlives the stream, so cancellation goes through the sideband KILL
// QUERY path rather than tearing the connection down.
func (c *Conn) Query(ctx context.Context, query string, args ...any) *Query {
	if c.closed.Load() {
		return newErrorQuery(kerrors.New(kerrors.CodeClosed, "connection is closed"), queryOptions{})
	}

	opts := c.queryOptionsFor(query, true)

	// The wire call runs on a context decoupled from ctx's own cancellation:
	// go-sql-driver/mysql's context watcher would otherwise forcibly close
	// this shared connection the instant ctx is canceled, regardless of
	// keepOpen. watchContext(ctx) below still wires ctx into the state
	// machine's own cancelCh/cancelFn/cursor.close() path (§4.4).
	rows, err := c.lease.conn.QueryContext(context.Background(), query, args...)
	if err != nil {
		return newErrorQuery(wrapDriverError(err, "query execution failed"), opts)
	}

	columns, err := decodeColumns(rows)
	if err != nil {
		_ = rows.Close()
		return newErrorQuery(err, opts)
	}

	q := newRowsQuery(newSQLRowsCursor(rows, columns), opts)
	q.watchContext(ctx)
	return q
}

// QueryRow opens a stream, advances once, clones the row so it is
// independent of the cursor's lifetime, and closes the stream regardless
// of outcome.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) (*Row, error) {
	q := c.Query(ctx, query, args...)
	defer q.Close()

	if err := q.Ready(); err != nil {
		return nil, err
	}
	ok, err := q.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	row, err := q.Row()
	if err != nil {
		return nil, err
	}
	return row.Clone(), nil
}

// Exec runs the statement and returns {rowsAffected, lastInsertId}. It does
// not check whether the statement produces a row set rather than an update
// result; such a statement is not rejected.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
	if c.closed.Load() {
		return ExecResult{}, kerrors.New(kerrors.CodeClosed, "connection is closed")
	}

	start := logQueryStart(c.queryOptionsFor(query, true))
	result, err := execWithCancel(ctx, c.lease.conn, c.cancelFn(), nil, query, args...)
	duration := time.Since(start)

	if c.pool.config.Metrics != nil {
		c.pool.config.Metrics.RecordExec(ctx, sanitizeQuery(query), duration, err)
	}
	if err != nil {
		return ExecResult{}, wrapDriverError(err, "exec execution failed")
	}

	rowsAffected, _ := result.RowsAffected()
	lastInsertID, _ := result.LastInsertId()
	return ExecResult{RowsAffected: rowsAffected, LastInsertID: lastInsertID}, nil
}

// BeginTxn constructs a transaction bound to this connection without
// releasing the wire connection on transaction end (keepOpen=true).
func (c *Conn) BeginTxn(ctx context.Context, opts *TxOptions) (*Txn, error) {
	if c.closed.Load() {
		return nil, kerrors.New(kerrors.CodeClosed, "connection is closed")
	}
	txn := newTxn(c.pool, c.lease, false, opts)
	if err := txn.Begin(ctx, opts); err != nil {
		return nil, err
	}
	return txn, nil
}

// Close releases the wire connection back to the pool. Subsequent calls on
// this wrapper fail with Closed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.lease.release()
	})
	return err
}

func (c *Conn) queryOptionsFor(query string, keepOpen bool) queryOptions {
	return queryOptions{
		keepOpen:  keepOpen,
		highWater: c.pool.config.HighWaterMark,
		lowWater:  c.pool.config.LowWaterMark,
		cancelFn:  c.cancelFn(),
		logger:    c.pool.config.Logger,
		metrics:   c.pool.config.Metrics,
		traceID:   newTraceID(),
		queryText: query,
	}
}

// cancelFn returns the sideband KILL QUERY trigger bound to this
// connection's captured thread id.
func (c *Conn) cancelFn() func(ctx context.Context) {
	threadID := c.lease.threadID
	killerDB := c.pool.killerDB
	logger := c.pool.config.Logger
	return func(ctx context.Context) {
		if err := killQuery(ctx, killerDB, threadID); err != nil {
			// Best-effort per §5: log and swallow, the primary query's
			// terminal event still drives the state transition.
			if logger != nil {
				logger.Warn("sideband KILL QUERY failed", "error", err, "thread_id", threadID)
			}
		}
	}
}

// decodeColumns builds the ColumnInfo list from *sql.Rows' column metadata,
// the one-time derivation described in the data model.
func decodeColumns(rows *sql.Rows) ([]ColumnInfo, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, wrapDriverError(err, "failed to read column metadata")
	}
	columns := make([]ColumnInfo, len(types))
	for i, ct := range types {
		columns[i] = newColumnInfo(ct)
	}
	return columns, nil
}
