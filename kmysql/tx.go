package kmysql

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	kerrors "github.com/karu-codes/kmysql/errors"
)

// IsolationLevel is the discrete set of isolation tokens a transaction may
// request. The zero value selects the default (repeatableRead).
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationRepeatableRead  IsolationLevel = "repeatableRead"
	IsolationReadCommitted   IsolationLevel = "readCommitted"
	IsolationReadUncommitted IsolationLevel = "readUncommitted"
	IsolationSerializable    IsolationLevel = "serializable"
)

// isolationSQL maps an IsolationLevel token to the exact
// SET TRANSACTION ISOLATION LEVEL clause MySQL expects.
func isolationSQL(level IsolationLevel) (string, error) {
	switch level {
	case IsolationDefault, IsolationRepeatableRead:
		return "REPEATABLE READ", nil
	case IsolationReadCommitted:
		return "READ COMMITTED", nil
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED", nil
	case IsolationSerializable:
		return "SERIALIZABLE", nil
	default:
		return "", kerrors.Newf(kerrors.CodeUnsupportedIsolation, "unsupported isolation level %q", level)
	}
}

// TxOptions configures a transaction's isolation level and access mode.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Txn runs a sequence of statements on a bound connection: begin sends
// SET TRANSACTION ISOLATION LEVEL … then START TRANSACTION READ {ONLY|WRITE};
// commit/rollback end it. If the connection was leased for this transaction
// alone (keepOpen=false) it is released back to the pool after either
// outcome; if it was borrowed from an already-open Conn/Pool.Conn
// (keepOpen=true) the caller retains ownership.
type Txn struct {
	pool     *Pool
	lease    *wireLease
	keepOpen bool

	mu    sync.Mutex
	begun bool
	ended bool
	start time.Time

	closed atomic.Bool
}

func newTxn(pool *Pool, lease *wireLease, releaseOnEnd bool, opts *TxOptions) *Txn {
	return &Txn{pool: pool, lease: lease, keepOpen: !releaseOnEnd, start: time.Now()}
}

// Begin sends the isolation-level and START TRANSACTION statements. Its
// error is returned as a value so callers can choose how to translate it;
// the convenience BeginTxn constructors on Pool/Conn surface it directly.
func (t *Txn) Begin(ctx context.Context, opts *TxOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.begun {
		return kerrors.New(kerrors.CodeInvalidState, "transaction already begun")
	}

	level := IsolationDefault
	readOnly := false
	if opts != nil {
		level = opts.Isolation
		readOnly = opts.ReadOnly
	}

	sql, err := isolationSQL(level)
	if err != nil {
		return err
	}

	if _, execErr := t.lease.conn.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL "+sql); execErr != nil {
		return wrapDriverError(execErr, "failed to set transaction isolation level")
	}

	mode := "READ WRITE"
	if readOnly {
		mode = "READ ONLY"
	}
	if _, execErr := t.lease.conn.ExecContext(ctx, "START TRANSACTION "+mode); execErr != nil {
		return wrapDriverError(execErr, "failed to start transaction")
	}

	t.begun = true
	return nil
}

func (t *Txn) assertUsable() error {
	if t.closed.Load() || t.ended {
		return kerrors.New(kerrors.CodeClosed, "transaction is closed")
	}
	if !t.begun {
		return kerrors.New(kerrors.CodeInvalidState, "transaction has not begun")
	}
	return nil
}

// Query runs a statement on the transaction's bound connection. The
// returned stream always has keepOpen=true: the connection belongs to the
// transaction, not to any one statement within it.
func (t *Txn) Query(ctx context.Context, query string, args ...any) *Query {
	if err := t.assertUsable(); err != nil {
		return newErrorQuery(err, queryOptions{})
	}

	opts := t.queryOptionsFor(query)

	// Decoupled from ctx for the same reason as Conn.Query (§4.4): the
	// transaction's connection is shared beyond this one statement, so only
	// the sideband cancelFn wired into opts, never the driver's own context
	// watcher, may tear it down.
	rows, err := t.lease.conn.QueryContext(context.Background(), query, args...)
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

// QueryRow opens a stream, advances once, clones the row, and closes it.
func (t *Txn) QueryRow(ctx context.Context, query string, args ...any) (*Row, error) {
	q := t.Query(ctx, query, args...)
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

// Exec runs a non-result-set statement on the transaction's connection.
func (t *Txn) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
	if err := t.assertUsable(); err != nil {
		return ExecResult{}, err
	}

	start := logQueryStart(t.queryOptionsFor(query))
	result, err := execWithCancel(ctx, t.lease.conn, t.cancelFn(), nil, query, args...)
	duration := time.Since(start)

	if t.pool.config.Metrics != nil {
		t.pool.config.Metrics.RecordExec(ctx, sanitizeQuery(query), duration, err)
	}
	if err != nil {
		return ExecResult{}, wrapDriverError(err, "exec execution failed")
	}

	rowsAffected, _ := result.RowsAffected()
	lastInsertID, _ := result.LastInsertId()
	return ExecResult{RowsAffected: rowsAffected, LastInsertID: lastInsertID}, nil
}

// Commit commits the transaction. If the connection was leased exclusively
// for this transaction, it is released back to the pool afterward.
func (t *Txn) Commit(ctx context.Context) error {
	return t.end(ctx, "COMMIT", true)
}

// Rollback rolls back the transaction. If the connection was leased
// exclusively for this transaction, it is released back to the pool
// afterward.
func (t *Txn) Rollback(ctx context.Context) error {
	return t.end(ctx, "ROLLBACK", false)
}

func (t *Txn) end(ctx context.Context, stmt string, committed bool) error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return kerrors.New(kerrors.CodeInvalidState, "transaction already ended")
	}
	if !t.begun {
		t.mu.Unlock()
		return kerrors.New(kerrors.CodeInvalidState, "transaction has not begun")
	}
	t.ended = true
	t.mu.Unlock()

	_, execErr := t.lease.conn.ExecContext(ctx, stmt)
	duration := time.Since(t.start)

	if t.pool.config.Metrics != nil {
		t.pool.config.Metrics.RecordTransaction(ctx, duration, committed, execErr)
	}

	if !t.keepOpen {
		t.closed.Store(true)
		if execErr != nil {
			_ = t.lease.teardown()
		} else {
			t.lease.release()
		}
	}

	if execErr != nil {
		return wrapDriverError(execErr, stmt+" failed")
	}
	return nil
}

func (t *Txn) queryOptionsFor(query string) queryOptions {
	return queryOptions{
		keepOpen:  true,
		highWater: t.pool.config.HighWaterMark,
		lowWater:  t.pool.config.LowWaterMark,
		cancelFn:  t.cancelFn(),
		logger:    t.pool.config.Logger,
		metrics:   t.pool.config.Metrics,
		traceID:   newTraceID(),
		queryText: query,
	}
}

// cancelFn returns the sideband KILL QUERY trigger bound to this
// transaction's leased connection, mirroring Conn.cancelFn — a transaction's
// connection is just as shared-beyond-one-statement as a bare Conn's.
func (t *Txn) cancelFn() func(ctx context.Context) {
	threadID := t.lease.threadID
	killerDB := t.pool.killerDB
	logger := t.pool.config.Logger
	return func(ctx context.Context) {
		if err := killQuery(ctx, killerDB, threadID); err != nil {
			if logger != nil {
				logger.Warn("sideband KILL QUERY failed", "error", err, "thread_id", threadID)
			}
		}
	}
}
