package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultEnvFiles are the dotenv files Load reads when they exist.
// Variables already set in the environment take precedence.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Load reads configuration from the environment, after loading any of
// DefaultEnvFiles that exist. It applies defaults for unset values and
// validates the result.
func Load() (*Config, error) {
	if _, err := LoadEnv(DefaultEnvFiles); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return FromEnv()
}

// FromEnv parses and validates the current environment without reading
// dotenv files.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = cfg.Database.AltURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// LoadEnv loads the files among envFiles that exist and returns how many
// were loaded.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []error

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be positive"))
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, errors.New("DB_MIN_CONNS must be non-negative"))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, errors.New("SERVER_READ_TIMEOUT must be non-negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_SHUTDOWN_TIMEOUT must be positive"))
	}

	// Import validation
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_FILE_SIZE must be positive"))
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_CONCURRENT must be positive"))
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_WAIT_TIME must be positive"))
	}
	if c.Import.BatchSize < 1 || c.Import.BatchSize > 10000 {
		errs = append(errs, fmt.Errorf("IMPORT_BATCH_SIZE (%d) must be 1-10000", c.Import.BatchSize))
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, errors.New("IMPORT_TIMEOUT must be positive"))
	}
	if c.Import.ConfidenceThreshold < 0 || c.Import.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("IMPORT_CONFIDENCE_THRESHOLD (%g) must be within [0, 1]",
			c.Import.ConfidenceThreshold))
	}
	if c.Import.ColumnTolerance < 0 {
		errs = append(errs, errors.New("IMPORT_COLUMN_TOLERANCE must be non-negative"))
	}
	if c.Import.Workers <= 0 {
		errs = append(errs, errors.New("IMPORT_WORKERS must be positive"))
	}

	// Retention validation
	if c.Retention.Days <= 0 {
		errs = append(errs, errors.New("RUN_RETENTION_DAYS must be positive"))
	}
	if c.Retention.CheckInterval <= 0 {
		errs = append(errs, errors.New("RUN_RETENTION_CHECK_INTERVAL must be positive"))
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled"))
	}
	if c.Rate.Enabled && c.Rate.SubmitLimit <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SUBMIT must be positive when rate limiting is enabled"))
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, errors.New("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth"))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("METRICS_PATH (%q) must start with /", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	db := "none"
	if c.Database.Enabled() {
		db = "[MASKED]"
	}
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		db, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {MaxFileSize: %d, MaxConcurrent: %d, BatchSize: %d, Workers: %d}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.BatchSize, c.Import.Workers)
	fmt.Fprintf(&b, "Retention: {Days: %d}, ", c.Retention.Days)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
