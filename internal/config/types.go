// Package config loads the service configuration from a JSON or YAML file,
// applies defaults and environment overrides, and optionally watches the file
// for changes.
package config

// Config is the complete service configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	API       APIConfig       `json:"api"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Queue     QueueConfig     `json:"queue"`
	Lock      LockConfig      `json:"lock"`
	Archive   ArchiveConfig   `json:"archive"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./fms.db" }
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, bigquery.
	Driver string `json:"driver"`

	// Path is the sqlite database file.
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// DSN is the postgres connection string (DATABASE_URL overrides it).
	DSN      string `json:"dsn,omitempty"`
	MaxConns int32  `json:"max_conns,omitempty"`

	// ProjectID and Dataset address the BigQuery tables.
	ProjectID string `json:"project_id,omitempty"`
	Dataset   string `json:"dataset,omitempty"`
}

type APIConfig struct {
	Addr string `json:"addr"`

	// CronToken, when set, is required as a bearer token on the run endpoint (do not log).
	CronToken string `json:"cron_token,omitempty"`

	RunRatePerSec float64 `json:"run_rate_per_sec,omitempty"`
	RunRateBurst  int     `json:"run_rate_burst,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerConfig controls the cron trigger of the worker.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Spec is a standard 5-field cron expression, or a descriptor such as "@hourly".
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`

	// BatchLimit caps templates per run. 0 uses the runner default.
	BatchLimit int `json:"batch_limit,omitempty"`
}

type QueueConfig struct {
	Workers    int `json:"workers,omitempty"`
	BufferSize int `json:"buffer_size,omitempty"`
	MaxRetries int `json:"max_retries,omitempty"`
}

// LockConfig selects how concurrent runs are serialized.
type LockConfig struct {
	// Driver is one of none, local, redis.
	Driver    string `json:"driver"`
	RedisAddr string `json:"redis_addr,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
	TTL       string `json:"ttl,omitempty"`
}

// ArchiveConfig controls run report uploads to GCS. An empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}
