package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noEnv(string) string { return "" }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := writeFile(t, dir, "fms.yaml", `
logging:
  level: debug
storage:
  driver: sqlite
  path: /var/lib/fms/fms.db
scheduler:
  enabled: true
  spec: "*/15 * * * *"
  timezone: UTC
  batch_limit: 200
`)
	jsonPath := writeFile(t, dir, "fms.json", `{
  "storage": {"driver": "sqlite", "path": "/var/lib/fms/fms.db"},
  "scheduler": {"enabled": true, "spec": "*/15 * * * *", "timezone": "UTC", "batch_limit": 200}
}`)

	for _, path := range []string{yamlPath, jsonPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			cfg, err := load(path, noEnv)
			if err != nil {
				t.Fatalf("load() error = %v", err)
			}
			if cfg.Storage.Driver != DriverSQLite || cfg.Storage.Path != "/var/lib/fms/fms.db" {
				t.Errorf("Storage = %+v", cfg.Storage)
			}
			if cfg.Scheduler.Spec != "*/15 * * * *" || cfg.Scheduler.BatchLimit != 200 {
				t.Errorf("Scheduler = %+v", cfg.Scheduler)
			}
			if cfg.API.Addr != ":8080" || cfg.Lock.Driver != LockLocal {
				t.Errorf("defaults not applied: api=%+v lock=%+v", cfg.API, cfg.Lock)
			}
		})
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fms.yaml", "storage:\n  driver: memory\n  flavour: vanilla\n")

	if _, err := load(path, noEnv); err == nil || !strings.Contains(err.Error(), "flavour") {
		t.Errorf("load() error = %v, want unknown field error", err)
	}
}

func TestLoad_RejectsTrailingData(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fms.json", `{"storage":{"driver":"memory"}}{"x":1}`)

	if _, err := load(path, noEnv); err == nil {
		t.Error("load() error = nil, want trailing data error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL": "postgres://fms@localhost/fms",
		"GCS_BUCKET":   "fms-reports",
		"REDIS_ADDR":   "localhost:6379",
		"CRON_TOKEN":   "s3cret",
	}
	cfg, err := load("", func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.DSN != env["DATABASE_URL"] {
		t.Errorf("Storage = %+v, want postgres from DATABASE_URL", cfg.Storage)
	}
	if cfg.Archive.Bucket != "fms-reports" {
		t.Errorf("Archive.Bucket = %q", cfg.Archive.Bucket)
	}
	if cfg.Lock.Driver != LockRedis || cfg.Lock.RedisAddr != "localhost:6379" {
		t.Errorf("Lock = %+v, want redis from REDIS_ADDR", cfg.Lock)
	}
	if cfg.API.CronToken != "s3cret" {
		t.Errorf("CronToken not applied")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.dsn"},
		{"bigquery without project", func(c *Config) { c.Storage.Driver = DriverBigQuery }, "storage.project_id"},
		{"redis without addr", func(c *Config) { c.Lock.Driver = LockRedis }, "lock.redis_addr"},
		{"bad cron spec", func(c *Config) { c.Scheduler.Spec = "every tuesday" }, "scheduler.spec"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"negative batch limit", func(c *Config) { c.Scheduler.BatchLimit = -1 }, "scheduler.batch_limit"},
		{"bad duration", func(c *Config) { c.Lock.TTL = "ten minutes" }, "lock.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("empty = %v, %v; want default", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "90s", time.Minute); err != nil || d != 90*time.Second {
		t.Errorf("90s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Error("negative duration accepted")
	}
	if got := (LockConfig{}).TTLOrDefault(); got != 10*time.Minute {
		t.Errorf("TTLOrDefault() = %v", got)
	}
}

func TestManager_ReloadPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fms.yaml", "scheduler:\n  enabled: true\n  spec: \"@hourly\"\n")

	m := NewManager(path, zerolog.New(io.Discard))
	m.getenv = noEnv
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sub := m.Subscribe(1)

	ctx := context.Background()
	if m.reload(ctx) {
		t.Error("reload() of unchanged file published a config")
	}

	writeFile(t, dir, "fms.yaml", "scheduler:\n  enabled: true\n  spec: \"@daily\"\n")
	if !m.reload(ctx) {
		t.Fatal("reload() of changed file did not publish")
	}
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Spec != "@daily" {
			t.Errorf("published spec = %q, want @daily", cfg.Scheduler.Spec)
		}
	default:
		t.Fatal("subscriber received nothing")
	}
	if m.Get().Scheduler.Spec != "@daily" {
		t.Errorf("Get() spec = %q", m.Get().Scheduler.Spec)
	}

	// Invalid content keeps the previous config.
	writeFile(t, dir, "fms.yaml", "scheduler:\n  spec: \"not a cron\"\n")
	if m.reload(ctx) {
		t.Error("invalid config was published")
	}
	if m.Get().Scheduler.Spec != "@daily" {
		t.Error("invalid reload replaced the current config")
	}

	// Validator rejection keeps the previous config.
	m.SetValidator(func(context.Context, *Config) error { return context.Canceled })
	writeFile(t, dir, "fms.yaml", "scheduler:\n  enabled: true\n  spec: \"@weekly\"\n")
	if m.reload(ctx) {
		t.Error("rejected config was published")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Error("Unsubscribe did not close the channel")
	}
}
