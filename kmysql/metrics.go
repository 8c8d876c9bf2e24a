package kmysql

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// PoolStats is a snapshot of connection pool statistics, mirrored from
// database/sql.DBStats.
type PoolStats struct {
	AcquiredConns int32
	IdleConns     int32
	TotalConns    int32
	MaxConns      int32
}

// MetricsCollector is the observability boundary for query, exec,
// transaction and pool-level events. Implementations must be safe for
// concurrent use — every query tier invokes these hooks from its own
// goroutine.
type MetricsCollector interface {
	RecordQuery(ctx context.Context, query string, duration time.Duration, err error)
	RecordExec(ctx context.Context, query string, duration time.Duration, err error)
	RecordTransaction(ctx context.Context, duration time.Duration, committed bool, err error)
	RecordPoolStats(stats PoolStats)
}

// NoOpMetricsCollector discards every event. The package itself does not
// substitute it for a nil Config.Metrics; a nil collector is simply skipped.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordQuery(context.Context, string, time.Duration, error)       {}
func (NoOpMetricsCollector) RecordExec(context.Context, string, time.Duration, error)        {}
func (NoOpMetricsCollector) RecordTransaction(context.Context, time.Duration, bool, error)   {}
func (NoOpMetricsCollector) RecordPoolStats(PoolStats)                                       {}

// LoggingMetricsCollector logs each event through slog at debug (success)
// or error (failure) level.
type LoggingMetricsCollector struct {
	logger *slog.Logger
}

func NewLoggingMetricsCollector(logger *slog.Logger) *LoggingMetricsCollector {
	return &LoggingMetricsCollector{logger: logger}
}

func (l *LoggingMetricsCollector) RecordQuery(ctx context.Context, query string, duration time.Duration, err error) {
	if err != nil {
		l.logger.ErrorContext(ctx, "query failed", slog.String("query", query), slog.Duration("duration", duration), slog.Any("error", err))
		return
	}
	l.logger.DebugContext(ctx, "query completed", slog.String("query", query), slog.Duration("duration", duration))
}

func (l *LoggingMetricsCollector) RecordExec(ctx context.Context, query string, duration time.Duration, err error) {
	if err != nil {
		l.logger.ErrorContext(ctx, "exec failed", slog.String("query", query), slog.Duration("duration", duration), slog.Any("error", err))
		return
	}
	l.logger.DebugContext(ctx, "exec completed", slog.String("query", query), slog.Duration("duration", duration))
}

func (l *LoggingMetricsCollector) RecordTransaction(ctx context.Context, duration time.Duration, committed bool, err error) {
	if err != nil {
		l.logger.ErrorContext(ctx, "transaction failed", slog.Duration("duration", duration), slog.Bool("committed", committed), slog.Any("error", err))
		return
	}
	l.logger.DebugContext(ctx, "transaction completed", slog.Duration("duration", duration), slog.Bool("committed", committed))
}

func (l *LoggingMetricsCollector) RecordPoolStats(stats PoolStats) {
	l.logger.Debug("pool stats",
		slog.Int("acquired_conns", int(stats.AcquiredConns)),
		slog.Int("idle_conns", int(stats.IdleConns)),
		slog.Int("total_conns", int(stats.TotalConns)),
		slog.Int("max_conns", int(stats.MaxConns)),
	)
}

// SlowQuery records one query/exec that exceeded the configured threshold.
type SlowQuery struct {
	Query     string
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// InMemoryMetricsCollector accumulates counts, durations and slow-query
// samples in memory. Intended for development and tests, not high-traffic
// production use.
type InMemoryMetricsCollector struct {
	mu sync.RWMutex

	queryCount      int64
	queryErrorCount int64
	queryDurations  []time.Duration

	execCount      int64
	execErrorCount int64
	execDurations  []time.Duration

	txCount         int64
	txCommitCount   int64
	txRollbackCount int64
	txErrorCount    int64
	txDurations     []time.Duration

	lastPoolStats PoolStats
	poolStatsTime time.Time

	slowQueries        []SlowQuery
	slowQueryThreshold time.Duration
}

func NewInMemoryMetricsCollector(slowQueryThreshold time.Duration) *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		queryDurations:     make([]time.Duration, 0),
		execDurations:      make([]time.Duration, 0),
		txDurations:        make([]time.Duration, 0),
		slowQueries:        make([]SlowQuery, 0),
		slowQueryThreshold: slowQueryThreshold,
	}
}

func (m *InMemoryMetricsCollector) RecordQuery(ctx context.Context, query string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryCount++
	m.queryDurations = append(m.queryDurations, duration)
	if err != nil {
		m.queryErrorCount++
	}
	if duration >= m.slowQueryThreshold {
		m.slowQueries = append(m.slowQueries, SlowQuery{Query: query, Duration: duration, Timestamp: time.Now(), Error: err})
	}
}

func (m *InMemoryMetricsCollector) RecordExec(ctx context.Context, query string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.execCount++
	m.execDurations = append(m.execDurations, duration)
	if err != nil {
		m.execErrorCount++
	}
	if duration >= m.slowQueryThreshold {
		m.slowQueries = append(m.slowQueries, SlowQuery{Query: query, Duration: duration, Timestamp: time.Now(), Error: err})
	}
}

func (m *InMemoryMetricsCollector) RecordTransaction(ctx context.Context, duration time.Duration, committed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCount++
	m.txDurations = append(m.txDurations, duration)
	if committed {
		m.txCommitCount++
	} else {
		m.txRollbackCount++
	}
	if err != nil {
		m.txErrorCount++
	}
}

func (m *InMemoryMetricsCollector) RecordPoolStats(stats PoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPoolStats = stats
	m.poolStatsTime = time.Now()
}

// Metrics is a point-in-time snapshot of everything an
// InMemoryMetricsCollector has observed.
type Metrics struct {
	QueryCount       int64
	QueryErrorCount  int64
	QueryAvgDuration time.Duration
	QueryP50Duration time.Duration
	QueryP95Duration time.Duration
	QueryP99Duration time.Duration

	ExecCount       int64
	ExecErrorCount  int64
	ExecAvgDuration time.Duration
	ExecP50Duration time.Duration
	ExecP95Duration time.Duration
	ExecP99Duration time.Duration

	TxCount         int64
	TxCommitCount   int64
	TxRollbackCount int64
	TxErrorCount    int64
	TxAvgDuration   time.Duration
	TxP50Duration   time.Duration
	TxP95Duration   time.Duration
	TxP99Duration   time.Duration

	PoolStats          PoolStats
	PoolStatsTimestamp time.Time

	SlowQueryCount int64
}

func (m *InMemoryMetricsCollector) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Metrics{
		QueryCount:         m.queryCount,
		QueryErrorCount:    m.queryErrorCount,
		QueryAvgDuration:   calculateAverage(m.queryDurations),
		QueryP50Duration:   calculatePercentile(m.queryDurations, 0.50),
		QueryP95Duration:   calculatePercentile(m.queryDurations, 0.95),
		QueryP99Duration:   calculatePercentile(m.queryDurations, 0.99),
		ExecCount:          m.execCount,
		ExecErrorCount:     m.execErrorCount,
		ExecAvgDuration:    calculateAverage(m.execDurations),
		ExecP50Duration:    calculatePercentile(m.execDurations, 0.50),
		ExecP95Duration:    calculatePercentile(m.execDurations, 0.95),
		ExecP99Duration:    calculatePercentile(m.execDurations, 0.99),
		TxCount:            m.txCount,
		TxCommitCount:      m.txCommitCount,
		TxRollbackCount:    m.txRollbackCount,
		TxErrorCount:       m.txErrorCount,
		TxAvgDuration:      calculateAverage(m.txDurations),
		TxP50Duration:      calculatePercentile(m.txDurations, 0.50),
		TxP95Duration:      calculatePercentile(m.txDurations, 0.95),
		TxP99Duration:      calculatePercentile(m.txDurations, 0.99),
		PoolStats:          m.lastPoolStats,
		PoolStatsTimestamp: m.poolStatsTime,
		SlowQueryCount:     int64(len(m.slowQueries)),
	}
}

func (m *InMemoryMetricsCollector) SlowQueries() []SlowQuery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	queries := make([]SlowQuery, len(m.slowQueries))
	copy(queries, m.slowQueries)
	return queries
}

func (m *InMemoryMetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryCount, m.queryErrorCount = 0, 0
	m.queryDurations = m.queryDurations[:0]
	m.execCount, m.execErrorCount = 0, 0
	m.execDurations = m.execDurations[:0]
	m.txCount, m.txCommitCount, m.txRollbackCount, m.txErrorCount = 0, 0, 0, 0
	m.txDurations = m.txDurations[:0]
	m.slowQueries = m.slowQueries[:0]
}

func calculateAverage(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

// calculatePercentile is a simple nearest-rank estimate over a sorted copy
// of its input; the caller's slice is left in arrival order.
func calculatePercentile(durations []time.Duration, percentile float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// CompositeMetricsCollector fans every event out to multiple collectors,
// e.g. logging plus in-memory aggregation at once.
type CompositeMetricsCollector struct {
	collectors []MetricsCollector
}

func NewCompositeMetricsCollector(collectors ...MetricsCollector) *CompositeMetricsCollector {
	return &CompositeMetricsCollector{collectors: collectors}
}

func (c *CompositeMetricsCollector) RecordQuery(ctx context.Context, query string, duration time.Duration, err error) {
	for _, collector := range c.collectors {
		collector.RecordQuery(ctx, query, duration, err)
	}
}

func (c *CompositeMetricsCollector) RecordExec(ctx context.Context, query string, duration time.Duration, err error) {
	for _, collector := range c.collectors {
		collector.RecordExec(ctx, query, duration, err)
	}
}

func (c *CompositeMetricsCollector) RecordTransaction(ctx context.Context, duration time.Duration, committed bool, err error) {
	for _, collector := range c.collectors {
		collector.RecordTransaction(ctx, duration, committed, err)
	}
}

func (c *CompositeMetricsCollector) RecordPoolStats(stats PoolStats) {
	for _, collector := range c.collectors {
		collector.RecordPoolStats(stats)
	}
}

func (c *CompositeMetricsCollector) Add(collector MetricsCollector) {
	c.collectors = append(c.collectors, collector)
}
