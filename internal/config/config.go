// Package config provides centralized configuration management for the importer.
// It loads configuration from environment variables (and optional .env files)
// with sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/JonMunkholm/energyimport/internal/database"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Import    ImportConfig
	Retention RetentionConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. When empty the importer runs
	// on the in-memory store.
	URL string `env:"DATABASE_URL"`

	// AltURL is read from DB_URL and used when DATABASE_URL is unset.
	AltURL string `env:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int32 `env:"DB_MAX_CONNS" envDefault:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int32 `env:"DB_MIN_CONNS" envDefault:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// AutoMigrate applies the embedded migrations at startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// Pool converts the settings for database.Connect.
func (c *DatabaseConfig) Pool() database.PoolConfig {
	return database.PoolConfig{
		URL:             c.URL,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// ImportConfig holds pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"52428800"`

	// MaxConcurrent is the maximum number of parallel runs (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" envDefault:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" envDefault:"30s"`

	// BatchSize is the number of records committed per transaction (default: 100)
	BatchSize int `env:"IMPORT_BATCH_SIZE" envDefault:"100"`

	// Timeout is the maximum duration of a single run (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" envDefault:"30m"`

	// ConfidenceThreshold is the default minimum detection confidence (default: 0.3)
	ConfidenceThreshold float64 `env:"IMPORT_CONFIDENCE_THRESHOLD" envDefault:"0.3"`

	// ColumnTolerance is how many missing or extra trailing CSV cells are padded
	// or dropped before a row is malformed (default: 3)
	ColumnTolerance int `env:"IMPORT_COLUMN_TOLERANCE" envDefault:"3"`

	// Workers is the number of parallel row workers per run (default: 4)
	Workers int `env:"IMPORT_WORKERS" envDefault:"4"`

	// RetentionWindow is how long finished runs stay in memory (default: 1h)
	RetentionWindow time.Duration `env:"IMPORT_RETENTION_WINDOW" envDefault:"1h"`

	// MaxFutureActivation bounds how far ahead an activation date may lie
	// before it is flagged (default: 2 years)
	MaxFutureActivation time.Duration `env:"IMPORT_MAX_FUTURE_ACTIVATION" envDefault:"17520h"`
}

// ServiceConfig converts the import settings for core.NewService.
func (c *ImportConfig) ServiceConfig() core.ServiceConfig {
	return core.ServiceConfig{
		MaxFileSize:         c.MaxFileSize,
		MaxConcurrent:       c.MaxConcurrent,
		MaxWaitTime:         c.MaxWaitTime,
		Timeout:             c.Timeout,
		Workers:             c.Workers,
		ColumnTolerance:     c.ColumnTolerance,
		RetentionWindow:     c.RetentionWindow,
		MaxFutureActivation: c.MaxFutureActivation,
	}
}

// DefaultOptions returns the run options used when a caller sets none.
func (c *ImportConfig) DefaultOptions() core.Options {
	opts := core.DefaultOptions()
	opts.BatchSize = c.BatchSize
	opts.ConfidenceThreshold = c.ConfidenceThreshold
	return opts
}

// RetentionConfig holds settings for purging persisted runs.
type RetentionConfig struct {
	// Days is how long finished runs are kept (default: 90)
	Days int `env:"RUN_RETENTION_DAYS" envDefault:"90"`

	// CheckInterval is how often the purge job runs (default: 24h)
	CheckInterval time.Duration `env:"RUN_RETENTION_CHECK_INTERVAL" envDefault:"24h"`
}

// Core converts the settings for Service.StartRetentionScheduler.
func (c *RetentionConfig) Core() core.RetentionConfig {
	return core.RetentionConfig{Days: c.Days, CheckInterval: c.CheckInterval}
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`

	// SubmitLimit is requests per minute for the import submission endpoint (default: 10)
	SubmitLimit int `env:"RATE_LIMIT_SUBMIT" envDefault:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// CORSOrigins lists browser origins allowed to call /api (default: none)
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled mounts the metrics handler (default: true)
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Path is where metrics are served (default: /metrics)
	Path string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
