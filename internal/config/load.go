package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBigQuery = "bigquery"
)

// Lock drivers.
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	cfg := &Config{}
	cfg.Scheduler.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.Path == "" {
		c.Storage.Path = "fms.db"
	}
	if c.Storage.Driver == DriverBigQuery && c.Storage.Dataset == "" {
		c.Storage.Dataset = "finance"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.API.RunRatePerSec == 0 {
		c.API.RunRatePerSec = 1
	}
	if c.API.RunRateBurst == 0 {
		c.API.RunRateBurst = 3
	}
	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "@hourly"
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 1
	}
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 16
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = LockLocal
	}
	if c.Lock.KeyPrefix == "" {
		c.Lock.KeyPrefix = "fms:lock:"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "recurring-runs"
	}
}

// ApplyEnv overrides file values with well-known environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if c.Storage.Driver == "" || c.Storage.Driver == DriverMemory {
			c.Storage.Driver = DriverPostgres
		}
	}
	if v := getenv("GCP_PROJECT_ID"); v != "" {
		c.Storage.ProjectID = v
	}
	if v := getenv("GCS_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Lock.RedisAddr = v
		if c.Lock.Driver == "" {
			c.Lock.Driver = LockRedis
		}
	}
	if v := getenv("CRON_TOKEN"); v != "" {
		c.API.CronToken = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for values that would fail at startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for sqlite"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres (or set DATABASE_URL)"))
		}
	case DriverBigQuery:
		if strings.TrimSpace(c.Storage.ProjectID) == "" {
			errs = append(errs, errors.New("storage.project_id: required for bigquery (or set GCP_PROJECT_ID)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch c.Lock.Driver {
	case LockNone, LockLocal:
	case LockRedis:
		if strings.TrimSpace(c.Lock.RedisAddr) == "" {
			errs = append(errs, errors.New("lock.redis_addr: required for redis (or set REDIS_ADDR)"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.driver: unknown driver %q", c.Lock.Driver))
	}

	if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.spec: %w", err))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if c.Scheduler.BatchLimit < 0 {
		errs = append(errs, errors.New("scheduler.batch_limit: must be >= 0"))
	}
	if c.Queue.Workers < 0 || c.Queue.BufferSize < 0 || c.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("queue: values must be >= 0"))
	}
	if c.API.RunRatePerSec < 0 || c.API.RunRateBurst < 0 {
		errs = append(errs, errors.New("api: rate limit values must be >= 0"))
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout": c.Storage.BusyTimeout,
		"api.read_timeout":     c.API.ReadTimeout,
		"api.write_timeout":    c.API.WriteTimeout,
		"api.idle_timeout":     c.API.IdleTimeout,
		"lock.ttl":             c.Lock.TTL,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Decode strictly decodes JSON or YAML (chosen by the path extension) into a Config.
// Unknown fields and trailing data are rejected.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load reads path, applies environment overrides and defaults, and validates.
// An empty path starts from Default().
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: read %s: %w", path, err)
		}
		cfg, err = Decode(path, b)
		if err != nil {
			return nil, fmt.Errorf("Load: decode %s: %w", path, err)
		}
	} else {
		cfg.Scheduler.Enabled = true
	}

	cfg.ApplyEnv(getenv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: invalid config: %w", err)
	}
	return cfg, nil
}

// Durations resolved with defaults.

func (c APIConfig) Timeouts() (read, write, idle time.Duration) {
	read, _ = ParseDurationOrDefault("api.read_timeout", c.ReadTimeout, 15*time.Second)
	write, _ = ParseDurationOrDefault("api.write_timeout", c.WriteTimeout, 15*time.Second)
	idle, _ = ParseDurationOrDefault("api.idle_timeout", c.IdleTimeout, 60*time.Second)
	return read, write, idle
}

func (c LockConfig) TTLOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("lock.ttl", c.TTL, 10*time.Minute)
	return d
}

func (c StorageConfig) BusyTimeoutOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	return d
}
