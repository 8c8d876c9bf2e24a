package kmysql

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver

	kerrors "github.com/karu-codes/kmysql/errors"
)

// Pool wraps a *sql.DB connection pool plus a sideband "killer" pool used
// only to issue KILL QUERY against connections leased from the primary
// pool. It exposes query/queryRow/exec/conn/beginTxn/close — the top-level
// entry point into the streaming query surface.
type Pool struct {
	db       *sql.DB
	killerDB *sql.DB
	ownKiller bool

	config *Config

	healthTicker *time.Ticker
	healthCancel context.CancelFunc
	healthMu     sync.RWMutex
	lastHealth   error
	lastHealthAt time.Time

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open validates config, builds the DSN, opens the primary pool (and the
// sideband killer pool, if KillerDSN is set), applies pool settings, and
// pings before returning — mirroring the fail-fast construction the
// teacher's NewMySQL performs.
func Open(ctx context.Context, config *Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dsn, err := buildDSN(config, config.DatabaseURL)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeInvalidArgument, "failed to build MySQL DSN")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, wrapDriverError(err, "failed to open MySQL connection")
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx := ctx
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrapDriverError(err, "failed to ping MySQL database")
	}

	killerDB := db
	ownKiller := false
	if config.KillerDSN != "" {
		killerDSN, err := buildDSN(config, config.KillerDSN)
		if err != nil {
			db.Close()
			return nil, kerrors.Wrap(err, kerrors.CodeInvalidArgument, "failed to build killer DSN")
		}
		killerDB, err = sql.Open("mysql", killerDSN)
		if err != nil {
			db.Close()
			return nil, wrapDriverError(err, "failed to open killer connection")
		}
		killerDB.SetMaxOpenConns(2)
		if err := killerDB.PingContext(pingCtx); err != nil {
			db.Close()
			killerDB.Close()
			return nil, wrapDriverError(err, "failed to ping killer connection")
		}
		ownKiller = true
	}

	pool := &Pool{db: db, killerDB: killerDB, ownKiller: ownKiller, config: config}

	if config.HealthCheckInterval > 0 {
		pool.startHealthChecks()
	}

	if config.Logger != nil {
		config.Logger.Info("MySQL pool established",
			slog.String("url", config.MaskedURL()),
			slog.Int("max_conns", config.MaxOpenConns),
			slog.Int("idle_conns", config.MaxIdleConns),
		)
	}

	return pool, nil
}

// Conn leases a dedicated connection for a sequence of statements that must
// share one session (e.g. SET SESSION variables followed by queries).
func (p *Pool) Conn(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, kerrors.New(kerrors.CodeClosed, "pool is closed")
	}
	lease, err := acquireLease(ctx, p.db)
	if err != nil {
		return nil, err
	}
	return &Conn{pool: p, lease: lease}, nil
}

// Query leases a connection for the duration of the stream only
// (keepOpen=false): a clean end releases the connection back to the pool,
// cancellation tears it down rather than risking a connection whose
// in-flight statement was KILLed.
func (p *Pool) Query(ctx context.Context, query string, args ...any) *Query {
	if p.closed.Load() {
		return newErrorQuery(kerrors.New(kerrors.CodeClosed, "pool is closed"), queryOptions{})
	}

	lease, err := acquireLease(ctx, p.db)
	if err != nil {
		return newErrorQuery(err, queryOptions{})
	}

	opts := p.queryOptionsFor(query, false, lease)

	// Decoupled from ctx for the same reason as Conn.Query (§4.4): the
	// sideband cancelFn wired in below, not the driver's own context
	// watcher, is what tears the leased connection down on cancel.
	rows, err := lease.conn.QueryContext(context.Background(), query, args...)
	if err != nil {
		lease.release()
		return newErrorQuery(wrapDriverError(err, "query execution failed"), opts)
	}

	columns, err := decodeColumns(rows)
	if err != nil {
		_ = rows.Close()
		lease.release()
		return newErrorQuery(err, opts)
	}

	q := newRowsQuery(newSQLRowsCursor(rows, columns), opts)
	q.watchContext(ctx)
	return q
}

// QueryRow opens a one-shot stream, advances once, clones the row, and
// closes the stream regardless of outcome.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) (*Row, error) {
	q := p.Query(ctx, query, args...)
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

// Exec leases a connection for the statement's duration only.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
	if p.closed.Load() {
		return ExecResult{}, kerrors.New(kerrors.CodeClosed, "pool is closed")
	}

	lease, err := acquireLease(ctx, p.db)
	if err != nil {
		return ExecResult{}, err
	}
	// dispose runs once the exec truly finishes, whether that's before or
	// after ctx is cancelled — never releasing lease while a straggling
	// ExecContext call triggered by a lost race might still be using it.
	dispose := func(canceled bool) {
		if canceled {
			_ = lease.teardown()
			return
		}
		lease.release()
	}

	start := logQueryStart(p.queryOptionsFor(query, false, nil))
	result, err := execWithCancel(ctx, lease.conn, p.cancelFnFor(lease), dispose, query, args...)
	duration := time.Since(start)

	if p.config.Metrics != nil {
		p.config.Metrics.RecordExec(ctx, sanitizeQuery(query), duration, err)
	}
	if err != nil {
		return ExecResult{}, wrapDriverError(err, "exec execution failed")
	}

	rowsAffected, _ := result.RowsAffected()
	lastInsertID, _ := result.LastInsertId()
	return ExecResult{RowsAffected: rowsAffected, LastInsertID: lastInsertID}, nil
}

// BeginTxn leases a dedicated connection and starts a transaction on it.
func (p *Pool) BeginTxn(ctx context.Context, opts *TxOptions) (*Txn, error) {
	if p.closed.Load() {
		return nil, kerrors.New(kerrors.CodeClosed, "pool is closed")
	}
	lease, err := acquireLease(ctx, p.db)
	if err != nil {
		return nil, err
	}
	txn := newTxn(p, lease, true, opts)
	if err := txn.Begin(ctx, opts); err != nil {
		lease.release()
		return nil, err
	}
	return txn, nil
}

// Stats returns a snapshot of the primary pool's connection statistics.
func (p *Pool) Stats() PoolStats {
	stats := p.db.Stats()
	return PoolStats{
		AcquiredConns: int32(stats.InUse),
		IdleConns:     int32(stats.Idle),
		TotalConns:    int32(stats.OpenConnections),
		MaxConns:      int32(stats.MaxOpenConnections),
	}
}

// Health performs a liveness ping.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return wrapDriverError(err, "database health check failed")
	}
	return nil
}

// HealthDetailed performs a liveness ping followed by a trivial query.
func (p *Pool) HealthDetailed(ctx context.Context) error {
	if err := p.Health(ctx); err != nil {
		return err
	}
	var result int
	row, err := p.QueryRow(ctx, "SELECT 1")
	if err != nil {
		return wrapDriverError(err, "database readiness check failed")
	}
	if row == nil {
		return kerrors.New(kerrors.CodeDatabase, "readiness query returned no rows")
	}
	v, err := row.ByOrdinal(0)
	if err != nil {
		return err
	}
	result, _ = toInt(v)
	if result != 1 {
		return kerrors.Newf(kerrors.CodeDatabase, "unexpected result from health check: %d", result)
	}
	return nil
}

// Close is idempotent; it stops background health checks and closes both
// the primary and (if distinct) killer pools.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.healthCancel != nil {
			p.healthCancel()
		}
		if p.healthTicker != nil {
			p.healthTicker.Stop()
		}
		err = p.db.Close()
		if p.ownKiller {
			if kerr := p.killerDB.Close(); err == nil {
				err = kerr
			}
		}
		if p.config.Logger != nil {
			p.config.Logger.Info("MySQL pool closed")
		}
	})
	return err
}

// Shutdown closes the pool, giving it until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = p.Close()
		return ctx.Err()
	}
}

func (p *Pool) queryOptionsFor(query string, keepOpen bool, lease *wireLease) queryOptions {
	opts := queryOptions{
		keepOpen:  keepOpen,
		highWater: p.config.HighWaterMark,
		lowWater:  p.config.LowWaterMark,
		logger:    p.config.Logger,
		metrics:   p.config.Metrics,
		traceID:   newTraceID(),
		queryText: query,
	}
	if lease != nil {
		opts.cancelFn = p.cancelFnFor(lease)
		opts.releaseFn = func(canceled bool) {
			if canceled {
				_ = lease.teardown()
				return
			}
			lease.release()
		}
	}
	return opts
}

// cancelFnFor returns the sideband KILL QUERY trigger bound to lease's
// captured thread id, mirroring Conn.cancelFn.
func (p *Pool) cancelFnFor(lease *wireLease) func(ctx context.Context) {
	threadID := lease.threadID
	killerDB := p.killerDB
	logger := p.config.Logger
	return func(ctx context.Context) {
		if err := killQuery(ctx, killerDB, threadID); err != nil {
			if logger != nil {
				logger.Warn("sideband KILL QUERY failed", "error", err, "thread_id", threadID)
			}
		}
	}
}

func (p *Pool) startHealthChecks() {
	ctx, cancel := context.WithCancel(context.Background())
	p.healthCancel = cancel

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	p.healthTicker = ticker

	go func() {
		for {
			select {
			case <-ticker.C:
				healthCtx, healthCancel := context.WithTimeout(ctx, 2*time.Second)
				err := p.Health(healthCtx)
				healthCancel()

				p.healthMu.Lock()
				p.lastHealth = err
				p.lastHealthAt = time.Now()
				p.healthMu.Unlock()

				if err != nil && p.config.Logger != nil {
					p.config.Logger.Error("health check failed", slog.Any("error", err))
				}
				if p.config.Metrics != nil {
					p.config.Metrics.RecordPoolStats(p.Stats())
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// LastHealthCheck returns the outcome of the most recent background health
// check.
func (p *Pool) LastHealthCheck() (err error, at time.Time) {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.lastHealth, p.lastHealthAt
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, kerrors.Newf(kerrors.CodeDatabase, "unexpected type %T for integer column", v)
	}
}
