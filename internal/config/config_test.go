package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ingestd.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, int64(32<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Store.Kind)
	assert.Equal(t, 5432, cfg.Store.Port)
	assert.Equal(t, "per_file", cfg.Ingest.Mode)
	assert.Equal(t, []string{"field1", "field2"}, cfg.Ingest.JSONRequiredKeys)
	assert.Equal(t, time.Minute, cfg.Metrics.FlushEvery)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeYAML(t, `
server:
  addr: ":9000"
  shutdown_timeout: 5s
store:
  kind: sqlite
  database: /tmp/a.db
ingest:
  mode: shared
  json_required_keys: [a]
log:
  level: debug
`)
	t.Setenv("INGEST_STORE_DATABASE", "/tmp/env.db")
	t.Setenv("INGEST_STORE_MAX_CONNS", "4")
	t.Setenv("INGEST_INGEST_JSON_REQUIRED_KEYS", "x, y")
	t.Setenv("INGEST_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=error", "--audit-log"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr, "file over default")
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Kind)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Database, "env over file")
	assert.Equal(t, 4, cfg.Store.MaxConns)
	assert.Equal(t, []string{"x", "y"}, cfg.Ingest.JSONRequiredKeys)
	assert.Equal(t, "shared", cfg.Ingest.Mode)
	assert.Equal(t, "error", cfg.Log.Level, "flag over env")
	assert.True(t, cfg.Ingest.AuditLog)
	assert.False(t, cfg.Ingest.LockTables, "unset flags do not override")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestStorageConfig(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	sc := cfg.StorageConfig()
	assert.Equal(t, "postgres", sc.Kind)
	assert.Equal(t, "localhost", sc.Host)
	assert.Equal(t, "ingest", sc.Database)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
		sev    Severity
	}{
		{"empty_addr", func(c *Config) { c.Server.Addr = "" }, "server.addr", SeverityError},
		{"unknown_store", func(c *Config) { c.Store.Kind = "oracle" }, "store.kind", SeverityError},
		{"sqlite_no_path", func(c *Config) { c.Store.Kind = "sqlite"; c.Store.Database = "" }, "store.database", SeverityError},
		{"no_host", func(c *Config) { c.Store.Host = "" }, "store.host", SeverityError},
		{"bad_mode", func(c *Config) { c.Ingest.Mode = "bulk" }, "ingest.mode", SeverityError},
		{"reserved_json_table", func(c *Config) { c.Ingest.JSONTable = "ingest_log" }, "ingest.json_table", SeverityError},
		{"bad_prefix", func(c *Config) { c.Ingest.TablePrefix = "T-" }, "ingest.table_prefix", SeverityError},
		{"rate_without_burst", func(c *Config) { c.Server.RateLimitRPS = 5; c.Server.RateLimitBurst = 0 }, "server.rate_limit_burst", SeverityError},
		{"bad_gateway", func(c *Config) { c.Metrics.Backend = "pushgateway"; c.Metrics.PushgatewayURL = "localhost" }, "metrics.pushgateway_url", SeverityError},
		{"unknown_metrics", func(c *Config) { c.Metrics.Backend = "statsd" }, "metrics.backend", SeverityError},
		{"no_required_keys", func(c *Config) { c.Ingest.JSONRequiredKeys = nil }, "ingest.json_required_keys", SeverityWarning},
		{"bad_log_format", func(c *Config) { c.Log.Format = "xml" }, "log.format", SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", nil)
			require.NoError(t, err)
			tt.mutate(cfg)

			issues := cfg.Validate()
			require.Len(t, issues, 1, "%v", issues)
			assert.Equal(t, tt.path, issues[0].Path)
			assert.Equal(t, tt.sev, issues[0].Severity)
			assert.Equal(t, tt.sev == SeverityError, HasErrors(issues))
		})
	}
}
