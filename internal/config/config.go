// Package config loads ingestd settings.
//
// Sources, lowest to highest precedence:
//
//	defaults < YAML file < INGEST_* environment < command-line flags
//
// Environment names map to keys by dropping the prefix, lowercasing and
// turning the first underscore into the section separator:
// INGEST_STORE_MAX_CONNS -> store.max_conns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"ingest/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INGEST_"

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Ingest  IngestConfig  `koanf:"ingest"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
	RateLimitRPS    float64       `koanf:"rate_limit_rps"` // 0 disables the limiter
	RateLimitBurst  int           `koanf:"rate_limit_burst"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Kind           string `koanf:"kind"`
	DSN            string `koanf:"dsn"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	Database       string `koanf:"database"`
	User           string `koanf:"user"`
	Password       string `koanf:"password"`
	SSLMode        string `koanf:"sslmode"`
	ConditionalDDL bool   `koanf:"conditional_ddl"`
	MaxConns       int    `koanf:"max_conns"`
	MigrateOnStart bool   `koanf:"migrate_on_start"`
}

type IngestConfig struct {
	Mode             string   `koanf:"mode"`
	TablePrefix      string   `koanf:"table_prefix"`
	JSONTable        string   `koanf:"json_table"`
	SharedTable      string   `koanf:"shared_table"`
	JSONRequiredKeys []string `koanf:"json_required_keys"`
	JSONRecordsKey   string   `koanf:"json_records_key"`
	LockTables       bool     `koanf:"lock_tables"`
	AuditLog         bool     `koanf:"audit_log"`
}

type MetricsConfig struct {
	Backend        string        `koanf:"backend"` // none | datadog | pushgateway
	Job            string        `koanf:"job"`
	Tags           string        `koanf:"tags"` // comma-separated key:value
	FlushEvery     time.Duration `koanf:"flush_every"`
	PushgatewayURL string        `koanf:"pushgateway_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text | json
	SeqURL string `koanf:"seq_url"`
}

// Defaults returns the baseline values as a flat key map.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8000",
		"server.max_upload_bytes": int64(32 << 20),
		"server.rate_limit_rps":   0.0,
		"server.rate_limit_burst": 20,
		"server.shutdown_timeout": "15s",

		"store.kind":             "postgres",
		"store.host":             "localhost",
		"store.port":             5432,
		"store.database":         "ingest",
		"store.user":             "postgres",
		"store.sslmode":          "disable",
		"store.conditional_ddl":  false,
		"store.max_conns":        0,
		"store.migrate_on_start": false,

		"ingest.mode":               "per_file",
		"ingest.table_prefix":       "table_",
		"ingest.json_table":         "data_table",
		"ingest.shared_table":       "data_table",
		"ingest.json_required_keys": []string{"field1", "field2"},
		"ingest.lock_tables":        false,
		"ingest.audit_log":          false,

		"metrics.backend":         "none",
		"metrics.job":             "ingest",
		"metrics.flush_every":     "60s",
		"metrics.pushgateway_url": "http://localhost:9091",

		"log.level":   "info",
		"log.format":  "text",
		"log.seq_url": "",
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":            "server.addr",
	"store":           "store.kind",
	"dsn":             "store.dsn",
	"conditional-ddl": "store.conditional_ddl",
	"migrate":         "store.migrate_on_start",
	"mode":            "ingest.mode",
	"audit-log":       "ingest.audit_log",
	"lock-tables":     "ingest.lock_tables",
	"metrics-backend": "metrics.backend",
	"pushgateway-url": "metrics.pushgateway_url",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// RegisterFlags defines the overridable flags on fs. Only flags the user
// actually sets take part in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "HTTP listen address")
	fs.String("store", "", "storage backend (postgres, sqlite, mssql)")
	fs.String("dsn", "", "storage connection string; overrides host/port/database/user/password")
	fs.Bool("conditional-ddl", false, "tolerate concurrent table/column creation")
	fs.Bool("migrate", false, "apply storage migrations before serving")
	fs.String("mode", "", "table selection: per_file or shared")
	fs.Bool("audit-log", false, "record each ingestion in ingest_log")
	fs.Bool("lock-tables", false, "serialize schema changes per table where supported")
	fs.String("metrics-backend", "", "metrics backend (none, datadog, pushgateway)")
	fs.String("pushgateway-url", "", "Prometheus Pushgateway base URL")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text, json)")
}

// Load builds a Config. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// envKey maps INGEST_SECTION_SOME_KEY=value to section.some_key. List-valued
// keys are split on commas.
func envKey(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if key == "ingest.json_required_keys" {
		return key, splitCSV(value)
	}
	return key, value
}

func splitCSV(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StorageConfig converts the store section for storage.New.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Kind:           c.Store.Kind,
		DSN:            c.Store.DSN,
		Host:           c.Store.Host,
		Port:           c.Store.Port,
		Database:       c.Store.Database,
		User:           c.Store.User,
		Password:       c.Store.Password,
		SSLMode:        c.Store.SSLMode,
		ConditionalDDL: c.Store.ConditionalDDL,
		MaxConns:       c.Store.MaxConns,
	}
}
