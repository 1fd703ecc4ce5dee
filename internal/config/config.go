// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// Pool modes.
const (
	ModeGoroutine = "goroutine"
	ModeProcess   = "process"
)

// Config is the top-level connector worker configuration.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Poll      PollConfig      `yaml:"poll"`
	Tenants   TenantsConfig   `yaml:"tenants"`
	Database  DatabaseConfig  `yaml:"database"`
	Status    StatusConfig    `yaml:"status"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PoolConfig controls the supervisor.
type PoolConfig struct {
	Population      int           `yaml:"population"`
	Mode            string        `yaml:"mode"`          // "goroutine" or "process"
	TickInterval    time.Duration `yaml:"tick_interval"` // supervisory tick
	SpawnBackoffMax time.Duration `yaml:"spawn_backoff_max"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
}

// PollConfig controls the rotating poll workers.
type PollConfig struct {
	MaxJobs      int           `yaml:"max_jobs"`
	BaseInterval time.Duration `yaml:"base_interval"`
	DBNames      string        `yaml:"databases"` // comma-separated; empty = enumerate the server
	Feature      string        `yaml:"feature"`   // module that must be installed
}

// TenantsConfig holds tenant Postgres connectivity settings.
type TenantsConfig struct {
	DSN           string        `yaml:"dsn"` // template; the database name is replaced per tenant
	Exclude       []string      `yaml:"exclude"`
	PoolCacheSize int           `yaml:"pool_cache_size"`
	PoolIdleTTL   time.Duration `yaml:"pool_idle_ttl"`
	DNSRefresh    time.Duration `yaml:"dns_refresh"`
}

// DatabaseConfig holds the local SQLite accounting ledger settings.
type DatabaseConfig struct {
	DSN       string        `yaml:"dsn"`       // file path or ":memory:"
	Retention time.Duration `yaml:"retention"` // ledger events older than this are pruned
}

// StatusConfig holds the status HTTP server settings.
type StatusConfig struct {
	Addr            string        `yaml:"addr"` // empty disables the server
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Databases returns the explicit tenant database list, or nil when the
// tenants should be enumerated from the server.
func (p PollConfig) Databases() []string {
	if strings.TrimSpace(p.DBNames) == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(p.DBNames, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate reports configuration values the pool cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.Population < 1 {
		errs = append(errs, fmt.Errorf("pool.population must be >= 1, got %d", c.Pool.Population))
	}
	if c.Pool.Mode != ModeGoroutine && c.Pool.Mode != ModeProcess {
		errs = append(errs, fmt.Errorf("pool.mode must be %q or %q, got %q", ModeGoroutine, ModeProcess, c.Pool.Mode))
	}
	if c.Pool.TickInterval <= 0 {
		errs = append(errs, errors.New("pool.tick_interval must be positive"))
	}
	if c.Poll.MaxJobs < 1 {
		errs = append(errs, fmt.Errorf("poll.max_jobs must be >= 1, got %d", c.Poll.MaxJobs))
	}
	if c.Poll.BaseInterval < 0 {
		errs = append(errs, errors.New("poll.base_interval must not be negative"))
	}
	if c.Poll.Feature == "" {
		errs = append(errs, errors.New("poll.feature is required"))
	}
	if strings.TrimSpace(c.Poll.DBNames) != "" && len(c.Poll.Databases()) == 0 {
		errs = append(errs, fmt.Errorf("poll.databases names no database: %q", c.Poll.DBNames))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint is required when tracing is enabled"))
	}
	if c.Tenants.DSN == "" {
		errs = append(errs, errors.New("tenants.dsn is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Population:      1,
			Mode:            ModeGoroutine,
			TickInterval:    time.Second,
			SpawnBackoffMax: 30 * time.Second,
			StopTimeout:     30 * time.Second,
		},
		Poll: PollConfig{
			MaxJobs:      connector.DefaultMaxJobs,
			BaseInterval: connector.DefaultBaseInterval,
			Feature:      "connector",
		},
		Tenants: TenantsConfig{
			Exclude:       []string{"postgres", "template0", "template1"},
			PoolCacheSize: 64,
			PoolIdleTTL:   10 * time.Minute,
			DNSRefresh:    5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:       "connector.db",
			Retention: 7 * 24 * time.Hour,
		},
		Status: StatusConfig{
			Addr:            ":8070",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
