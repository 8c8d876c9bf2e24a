// Package kmysql adapts the event-driven MySQL wire protocol exposed by
// go-sql-driver/mysql (through database/sql) into a pull-based streaming
// cursor API: Pool, Conn, Txn and Query share one query surface while
// differing in connection lifetime and isolation rules.
package kmysql

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/karu-codes/kmysql/config"
	kerrors "github.com/karu-codes/kmysql/errors"
)

// Config holds the MySQL connection pool configuration.
type Config struct {
	// DatabaseURL is the connection string, e.g. "user:pass@tcp(host:3306)/db".
	DatabaseURL string

	// KillerDSN is the DSN used for the sideband pool that issues
	// KILL QUERY against in-flight connections. When empty, the primary
	// pool doubles as the killer pool.
	KillerDSN string

	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime sets the maximum amount of time a connection may be idle.
	ConnMaxIdleTime time.Duration

	// ConnectTimeout sets the timeout for establishing a new connection.
	ConnectTimeout time.Duration

	// QueryTimeout sets the default read/write timeout for query operations.
	QueryTimeout time.Duration

	// HealthCheckInterval sets how often to perform background health checks.
	// Set to 0 to disable background health checks.
	HealthCheckInterval time.Duration

	// HighWaterMark is the buffered row count at which a streaming Query
	// requests the wire connection to pause. Default 100.
	HighWaterMark int

	// LowWaterMark is the buffered row count at which a paused streaming
	// Query resumes the wire connection. Default 75.
	LowWaterMark int

	// Logger is the structured logger for pool/query lifecycle events.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// Metrics is the metrics collector for observability.
	// If nil, metrics collection is disabled.
	Metrics MetricsCollector

	// LogQueries is stored and loadable from a config file, but the query
	// paths do not consult it: sanitized query text is logged at Debug
	// whenever Logger is set, regardless of this flag.
	LogQueries bool

	// ParseTime changes the output type of DATE and DATETIME values to time.Time.
	ParseTime bool

	// Location sets the location for parsing MySQL DATE and DATETIME values.
	Location *time.Location

	// MultiStatements allows multiple statements in one query (unsafe).
	MultiStatements bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(databaseURL string) *Config {
	return &Config{
		DatabaseURL:         databaseURL,
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     30 * time.Minute,
		ConnMaxIdleTime:     10 * time.Minute,
		ConnectTimeout:      10 * time.Second,
		QueryTimeout:        30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		HighWaterMark:       100,
		LowWaterMark:        75,
		ParseTime:           true,
		Location:            time.UTC,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return kerrors.New(kerrors.CodeInvalidArgument, "database URL is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return kerrors.New(kerrors.CodeInvalidArgument, "max idle conns cannot exceed max open conns")
	}
	if c.MaxOpenConns < 1 {
		return kerrors.New(kerrors.CodeInvalidArgument, "max open conns must be at least 1")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 || c.ConnectTimeout < 0 || c.QueryTimeout < 0 {
		return kerrors.New(kerrors.CodeInvalidArgument, "durations must be non-negative")
	}
	if c.HighWaterMark <= 0 {
		return kerrors.New(kerrors.CodeInvalidArgument, "high water mark must be positive")
	}
	if c.LowWaterMark < 0 || c.LowWaterMark >= c.HighWaterMark {
		return kerrors.New(kerrors.CodeInvalidArgument, "low water mark must be non-negative and below the high water mark")
	}
	return nil
}

// fileConfig is the serializable subset of Config loadable from a JSON/YAML
// file (or environment overrides) via the config package. Logger and
// Metrics are not expressible in a config file and are always supplied by
// the caller after loading.
type fileConfig struct {
	DatabaseURL         string        `yaml:"databaseUrl" json:"databaseUrl" env:"DATABASE_URL"`
	KillerDSN           string        `yaml:"killerDsn" json:"killerDsn" env:"KILLER_DSN"`
	MaxOpenConns        int           `yaml:"maxOpenConns" json:"maxOpenConns" envDefault:"25"`
	MaxIdleConns        int           `yaml:"maxIdleConns" json:"maxIdleConns" envDefault:"5"`
	ConnMaxLifetime     time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime" envDefault:"30m"`
	ConnMaxIdleTime     time.Duration `yaml:"connMaxIdleTime" json:"connMaxIdleTime" envDefault:"10m"`
	ConnectTimeout      time.Duration `yaml:"connectTimeout" json:"connectTimeout" envDefault:"10s"`
	QueryTimeout        time.Duration `yaml:"queryTimeout" json:"queryTimeout" envDefault:"30s"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval" json:"healthCheckInterval" envDefault:"30s"`
	HighWaterMark       int           `yaml:"highWaterMark" json:"highWaterMark" envDefault:"100"`
	LowWaterMark        int           `yaml:"lowWaterMark" json:"lowWaterMark" envDefault:"75"`
	LogQueries          bool          `yaml:"logQueries" json:"logQueries"`
	ParseTime           bool          `yaml:"parseTime" json:"parseTime" envDefault:"true"`
	MultiStatements     bool          `yaml:"multiStatements" json:"multiStatements"`
}

// LoadConfig reads a JSON or YAML file (format detected from its
// extension, environment variables applied as overrides) into a Config,
// the way config.Load is used elsewhere in this module. Logger and Metrics
// are not file-configurable and default to nil (disabled); set them on the
// returned Config before calling Open.
func LoadConfig(path string, opts ...config.Option) (*Config, error) {
	var fc fileConfig
	if err := config.Load(path, &fc, opts...); err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeInvalidArgument, "failed to load kmysql config")
	}

	return &Config{
		DatabaseURL:         fc.DatabaseURL,
		KillerDSN:           fc.KillerDSN,
		MaxOpenConns:        fc.MaxOpenConns,
		MaxIdleConns:        fc.MaxIdleConns,
		ConnMaxLifetime:     fc.ConnMaxLifetime,
		ConnMaxIdleTime:     fc.ConnMaxIdleTime,
		ConnectTimeout:      fc.ConnectTimeout,
		QueryTimeout:        fc.QueryTimeout,
		HealthCheckInterval: fc.HealthCheckInterval,
		HighWaterMark:       fc.HighWaterMark,
		LowWaterMark:        fc.LowWaterMark,
		LogQueries:          fc.LogQueries,
		ParseTime:           fc.ParseTime,
		Location:            time.UTC,
		MultiStatements:     fc.MultiStatements,
	}, nil
}

// Option is a function that modifies a Config.
type Option func(*Config)

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option { return func(c *Config) { c.MaxOpenConns = n } }

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option { return func(c *Config) { c.MaxIdleConns = n } }

// WithConnMaxLifetime sets the maximum connection lifetime.
func WithConnMaxLifetime(d time.Duration) Option { return func(c *Config) { c.ConnMaxLifetime = d } }

// WithConnectTimeout sets the connection timeout.
func WithConnectTimeout(d time.Duration) Option { return func(c *Config) { c.ConnectTimeout = d } }

// WithQueryTimeout sets the default query timeout.
func WithQueryTimeout(d time.Duration) Option { return func(c *Config) { c.QueryTimeout = d } }

// WithHealthCheckInterval sets the health check interval.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *Config) { c.HealthCheckInterval = d }
}

// WithWatermarks sets the backpressure high/low water marks.
func WithWatermarks(high, low int) Option {
	return func(c *Config) { c.HighWaterMark = high; c.LowWaterMark = low }
}

// WithKillerDSN sets the sideband DSN used for KILL QUERY cancellation.
func WithKillerDSN(dsn string) Option { return func(c *Config) { c.KillerDSN = dsn } }

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option { return func(c *Config) { c.Logger = logger } }

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option { return func(c *Config) { c.Metrics = metrics } }

// WithLogQueries sets Config.LogQueries.
func WithLogQueries(enabled bool) Option { return func(c *Config) { c.LogQueries = enabled } }

// ApplyOptions applies the given options to the config.
func (c *Config) ApplyOptions(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// MaskedURL returns the database URL with the password masked, safe for logging.
func (c *Config) MaskedURL() string {
	return maskPassword(c.DatabaseURL)
}

func maskPassword(dbURL string) string {
	if strings.Contains(dbURL, "://") {
		parsed, err := url.Parse(dbURL)
		if err != nil {
			return maskPasswordSimple(dbURL)
		}
		if parsed.User != nil {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
		// url escapes '*' in userinfo; restore the literal mask.
		return strings.Replace(parsed.String(), ":%2A%2A%2A@", ":***@", 1)
	}
	return maskPasswordSimple(dbURL)
}

// maskPasswordSimple masks MySQL-style DSNs without a scheme
// (user:pass@tcp(host)/db).
func maskPasswordSimple(dbURL string) string {
	atIndex := strings.Index(dbURL, "@")
	if atIndex == -1 {
		return dbURL
	}
	credentials := dbURL[:atIndex]
	colonIndex := strings.Index(credentials, ":")
	if colonIndex == -1 {
		return dbURL
	}
	username := credentials[:colonIndex]
	rest := dbURL[atIndex:]
	return username + ":***" + rest
}

// buildDSN builds a MySQL DSN with the standard parameters, mirroring
// go-sql-driver/mysql conventions.
func buildDSN(config *Config, databaseURL string) (string, error) {
	if databaseURL == "" {
		return "", kerrors.New(kerrors.CodeInvalidArgument, "database URL is required")
	}

	hasParams := strings.Contains(databaseURL, "?")
	dsn := databaseURL

	params := url.Values{}
	if config.ParseTime {
		params.Add("parseTime", "true")
	}
	if config.Location != nil {
		params.Add("loc", config.Location.String())
	}
	if config.ConnectTimeout > 0 {
		params.Add("timeout", config.ConnectTimeout.String())
	}
	if config.QueryTimeout > 0 {
		params.Add("readTimeout", config.QueryTimeout.String())
		params.Add("writeTimeout", config.QueryTimeout.String())
	}
	if config.MultiStatements {
		params.Add("multiStatements", "true")
	}
	params.Add("charset", "utf8mb4")
	params.Add("collation", "utf8mb4_unicode_ci")
	params.Add("interpolateParams", "true")

	if hasParams {
		dsn += "&" + params.Encode()
	} else {
		dsn += "?" + params.Encode()
	}
	return dsn, nil
}
