package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/karu-codes/kmysql/klog"
	"github.com/karu-codes/kmysql/kmysql"
)

func main() {
	zapLogger, err := klog.InitProvider(true)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	logger := klog.NewSlogBuilder(zapLogger).Build()

	databaseURL := os.Getenv("MYSQL_URL")
	if databaseURL == "" {
		databaseURL = "root:password@tcp(localhost:3306)/testdb"
		logger.Warn("MYSQL_URL not set, using default", "url", "root:***@tcp(localhost:3306)/testdb")
	}

	cfg := kmysql.DefaultConfig(databaseURL)
	cfg.Logger = logger
	cfg.LogQueries = true
	metrics := kmysql.NewInMemoryMetricsCollector(200 * time.Millisecond)
	cfg.Metrics = metrics

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("connecting to MySQL...")
	pool, err := kmysql.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()
	logger.Info("connected")

	if err := runExamples(ctx, pool, logger); err != nil {
		log.Fatalf("example failed: %v", err)
	}

	snapshot := metrics.Metrics()
	logger.Info("metrics snapshot",
		slog.Int64("queries", snapshot.QueryCount),
		slog.Int64("execs", snapshot.ExecCount),
		slog.Int64("slow_queries", snapshot.SlowQueryCount),
	)
}

func runExamples(ctx context.Context, pool *kmysql.Pool, logger *slog.Logger) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS widgets (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	if _, err := pool.Exec(ctx, "INSERT INTO widgets (name) VALUES (?), (?), (?)", "alpha", "beta", "gamma"); err != nil {
		return fmt.Errorf("seed rows: %w", err)
	}

	q := pool.Query(ctx, "SELECT id, name, created_at FROM widgets ORDER BY id")
	if err := q.Ready(); err != nil {
		return fmt.Errorf("query not ready: %w", err)
	}
	columns, err := q.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	logger.Info("streaming widgets", slog.Int("columns", len(columns)))

	for row, err := range q.All(ctx) {
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		obj := row.ToObject()
		logger.Info("row", slog.Any("widget", obj))
	}

	if err := runtxTransaction(ctx, pool); err != nil {
		return fmt.Errorf("transaction: %w", err)
	}

	health := kmysql.NewHealthChecker(pool)
	check := health.CheckDetailed(ctx)
	logger.Info("health check", slog.String("status", string(check.Status)), slog.String("message", check.Message))

	return nil
}

func runtxTransaction(ctx context.Context, pool *kmysql.Pool) error {
	txn, err := pool.BeginTxn(ctx, &kmysql.TxOptions{Isolation: kmysql.IsolationReadCommitted})
	if err != nil {
		return err
	}

	if _, err := txn.Exec(ctx, "UPDATE widgets SET name = ? WHERE name = ?", "delta", "alpha"); err != nil {
		_ = txn.Rollback(ctx)
		return err
	}

	return txn.Commit(ctx)
}
