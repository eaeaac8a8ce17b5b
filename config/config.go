// Package config loads runtime configuration for the leave engine binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/warp/leave-engine/generic"
)

// Prefix is prepended to every variable name: LEAVE_ADDR, LEAVE_STORE, ...
const Prefix = "LEAVE"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds runtime configuration for the server and the worker.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	Store         string        `envconfig:"STORE" default:"sqlite"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"./data/leave.db"`
	PGDSN         string        `envconfig:"PG_DSN"`
	PGMaxConns    int32         `envconfig:"PG_MAX_CONNS" default:"10"`
	PGLockTimeout time.Duration `envconfig:"PG_LOCK_TIMEOUT" default:"2s"`

	// RedisAddr enables the holiday cache and event notifications when set.
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	HolidayCacheTTL   time.Duration `envconfig:"HOLIDAY_CACHE_TTL" default:"1h"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`

	WeeklyOff        []string `envconfig:"WEEKLY_OFF" default:"saturday,sunday"`
	FiscalStartMonth int      `envconfig:"FISCAL_START_MONTH" default:"1"`

	// RolloverInterval is how often the server checks for a new period to
	// open allocations in. 0 disables the background check.
	RolloverInterval time.Duration `envconfig:"ROLLOVER_INTERVAL" default:"1h"`

	RetryAttempts  int           `envconfig:"RETRY_ATTEMPTS" default:"5"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"10ms"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" default:"250ms"`

	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:"*"`
	SubmitRateLimit int      `envconfig:"SUBMIT_RATE_LIMIT" default:"60"` // per client per minute, 0 disables
	SSLRedirect     bool     `envconfig:"SSL_REDIRECT" default:"false"`

	// DemoMode enables POST /api/scenarios/load. Scenario, when set, is
	// loaded at startup and implies DemoMode.
	DemoMode bool   `envconfig:"DEMO_MODE" default:"false"`
	Scenario string `envconfig:"SCENARIO"`
}

// Load reads an optional .env file (or the given files) and then the
// LEAVE_* environment variables. Variables already set in the environment
// win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Store {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite store requires LEAVE_SQLITE_PATH")
		}
	case DriverPostgres:
		if c.PGDSN == "" {
			return errors.New("postgres store requires LEAVE_PG_DSN")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store)
	}
	if _, err := c.WeeklyOffDays(); err != nil {
		return err
	}
	if c.FiscalStartMonth < 1 || c.FiscalStartMonth > 12 {
		return fmt.Errorf("fiscal start month must be 1-12, got %d", c.FiscalStartMonth)
	}
	if c.RolloverInterval < 0 {
		return errors.New("rollover interval must not be negative")
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// DemoEnabled reports whether scenario loading is allowed.
func (c *Config) DemoEnabled() bool {
	return c.DemoMode || c.Scenario != ""
}

func (c *Config) WeeklyOffDays() (generic.WeeklyOff, error) {
	return generic.ParseWeeklyOff(c.WeeklyOff)
}

func (c *Config) Periods() generic.PeriodConfig {
	return generic.NewPeriodConfig(time.Month(c.FiscalStartMonth))
}

func (c *Config) Retry() generic.RetryPolicy {
	return generic.RetryPolicy{Attempts: c.RetryAttempts, BaseDelay: c.RetryBaseDelay, MaxDelay: c.RetryMaxDelay}
}

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg != nil {
		opts.Level, _ = parseLevel(cfg.LogLevel)
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
