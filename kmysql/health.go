package kmysql

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthCheck is the result of one liveness or readiness check.
type HealthCheck struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthChecker wraps a Pool with a cached liveness check and an uncached,
// pool-aware readiness check.
type HealthChecker struct {
	pool *Pool

	cacheDuration time.Duration

	mu            sync.RWMutex
	lastCheck     *HealthCheck
	lastCheckTime time.Time
}

func NewHealthChecker(pool *Pool) *HealthChecker {
	return &HealthChecker{pool: pool, cacheDuration: time.Second}
}

// WithCacheDuration sets how long a liveness result is reused before the
// next Check call re-pings the database.
func (h *HealthChecker) WithCacheDuration(d time.Duration) *HealthChecker {
	h.cacheDuration = d
	return h
}

// Check performs a liveness check, caching the result for cacheDuration to
// avoid hammering the database under frequent health probes.
func (h *HealthChecker) Check(ctx context.Context) *HealthCheck {
	h.mu.RLock()
	if h.lastCheck != nil && time.Since(h.lastCheckTime) < h.cacheDuration {
		cached := h.lastCheck
		h.mu.RUnlock()
		return cached
	}
	h.mu.RUnlock()

	start := time.Now()
	err := h.pool.Health(ctx)
	duration := time.Since(start)

	check := &HealthCheck{Timestamp: start, Duration: duration, Details: make(map[string]interface{})}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("database health check failed: %v", err)
	} else {
		check.Status = StatusHealthy
		check.Message = "database is healthy"
	}
	check.Details["pool"] = poolStatsDetails(h.pool.Stats())

	h.mu.Lock()
	h.lastCheck = check
	h.lastCheckTime = start
	h.mu.Unlock()

	return check
}

// CheckDetailed performs a readiness check (ping plus a trivial query),
// never cached, and folds in pool-utilization analysis.
func (h *HealthChecker) CheckDetailed(ctx context.Context) *HealthCheck {
	start := time.Now()
	err := h.pool.HealthDetailed(ctx)
	duration := time.Since(start)

	check := &HealthCheck{Timestamp: start, Duration: duration, Details: make(map[string]interface{})}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("database readiness check failed: %v", err)
	} else {
		check.Status = StatusHealthy
		check.Message = "database is ready"
	}

	stats := h.pool.Stats()
	check.Details["pool"] = poolStatsDetails(stats)

	poolHealth := analyzePoolHealth(stats)
	check.Details["pool_health"] = poolHealth
	if poolHealth["status"] == "degraded" && check.Status == StatusHealthy {
		check.Status = StatusDegraded
		check.Message = "database is accessible but connection pool may be stressed"
	}

	return check
}

func poolStatsDetails(stats PoolStats) map[string]interface{} {
	return map[string]interface{}{
		"acquired_conns": stats.AcquiredConns,
		"idle_conns":     stats.IdleConns,
		"total_conns":    stats.TotalConns,
		"max_conns":      stats.MaxConns,
	}
}

func analyzePoolHealth(stats PoolStats) map[string]interface{} {
	analysis := make(map[string]interface{})

	var utilization float64
	if stats.MaxConns > 0 {
		utilization = float64(stats.TotalConns) / float64(stats.MaxConns)
	}
	analysis["utilization"] = fmt.Sprintf("%.2f%%", utilization*100)

	issues := make([]string, 0)
	if utilization > 0.8 {
		issues = append(issues, "connection pool utilization is high (>80%)")
		analysis["status"] = "degraded"
	} else {
		analysis["status"] = "healthy"
	}
	if stats.IdleConns == 0 && stats.TotalConns < stats.MaxConns {
		issues = append(issues, "no idle connections available")
	}
	if stats.AcquiredConns == stats.TotalConns && stats.TotalConns > 0 {
		issues = append(issues, "all connections are currently in use")
	}
	if len(issues) > 0 {
		analysis["issues"] = issues
	}
	return analysis
}

func (h *HealthCheck) String() string {
	return fmt.Sprintf("status=%s message=%q duration=%s timestamp=%s",
		h.Status, h.Message, h.Duration, h.Timestamp.Format(time.RFC3339))
}

func (h *HealthCheck) JSON() ([]byte, error) {
	return json.MarshalIndent(h, "", "  ")
}

func (h *HealthCheck) IsHealthy() bool   { return h.Status == StatusHealthy }
func (h *HealthCheck) IsDegraded() bool  { return h.Status == StatusDegraded }
func (h *HealthCheck) IsUnhealthy() bool { return h.Status == StatusUnhealthy }

// HTTPStatusCode suggests an HTTP status for surfacing this check from a
// probe endpoint: 200 healthy, 429 degraded, 503 unhealthy.
func (h *HealthCheck) HTTPStatusCode() int {
	switch h.Status {
	case StatusHealthy:
		return 200
	case StatusDegraded:
		return 429
	default:
		return 503
	}
}

// CheckFunc is a custom health probe run alongside the base liveness check.
type CheckFunc func(ctx context.Context, pool *Pool) error

// CustomHealthChecker augments HealthChecker with named custom checks, e.g.
// verifying a specific table or measuring query latency.
type CustomHealthChecker struct {
	*HealthChecker
	checks map[string]CheckFunc
}

func NewCustomHealthChecker(pool *Pool) *CustomHealthChecker {
	return &CustomHealthChecker{HealthChecker: NewHealthChecker(pool), checks: make(map[string]CheckFunc)}
}

func (c *CustomHealthChecker) AddCheck(name string, fn CheckFunc) {
	c.checks[name] = fn
}

func (c *CustomHealthChecker) CheckWithCustomChecks(ctx context.Context) *HealthCheck {
	check := c.Check(ctx)

	results := make(map[string]interface{})
	hasErrors := false
	for name, fn := range c.checks {
		checkStart := time.Now()
		err := fn(ctx, c.pool)
		duration := time.Since(checkStart)

		result := map[string]interface{}{"duration": duration.String()}
		if err != nil {
			result["status"] = "failed"
			result["error"] = err.Error()
			hasErrors = true
		} else {
			result["status"] = "passed"
		}
		results[name] = result
	}

	if len(results) > 0 {
		check.Details["custom_checks"] = results
	}
	if hasErrors && check.Status == StatusHealthy {
		check.Status = StatusDegraded
		check.Message = "database is accessible but some custom checks failed"
	}
	return check
}

// CheckQueryPerformance measures a trivial query's round-trip latency
// against a threshold.
func CheckQueryPerformance(threshold time.Duration) CheckFunc {
	return func(ctx context.Context, pool *Pool) error {
		start := time.Now()
		row, err := pool.QueryRow(ctx, "SELECT 1")
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		_ = row
		duration := time.Since(start)
		if duration > threshold {
			return fmt.Errorf("query took %s, exceeds threshold of %s", duration, threshold)
		}
		return nil
	}
}

// CheckTableExists verifies a table is visible in information_schema.
func CheckTableExists(tableName string) CheckFunc {
	return func(ctx context.Context, pool *Pool) error {
		row, err := pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = ?)", tableName)
		if err != nil {
			return fmt.Errorf("failed to check table existence: %w", err)
		}
		if row == nil {
			return fmt.Errorf("table %s does not exist", tableName)
		}
		v, err := row.ByOrdinal(0)
		if err != nil {
			return err
		}
		exists, _ := toBool(v)
		if !exists {
			return fmt.Errorf("table %s does not exist", tableName)
		}
		return nil
	}
}

func toBool(v any) (bool, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case int64:
		return n != 0, nil
	default:
		return false, fmt.Errorf("unexpected type %T for boolean column", v)
	}
}
