package config

import (
	"fmt"
	"net/url"
	"strings"

	"ingest/internal/storage"
)

// Severity grades a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the dotted config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// StoreKinds are the storage backends ingestd ships with.
var StoreKinds = []string{"postgres", "sqlite", "mssql"}

// Validate reports every problem found; errors make the config unusable,
// warnings do not.
func (c *Config) Validate() []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		add(SeverityError, "server.addr", "must not be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		add(SeverityError, "server.max_upload_bytes", "must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		add(SeverityError, "server.rate_limit_rps", "must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add(SeverityError, "server.rate_limit_burst", "must be at least 1 when rate limiting is on")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add(SeverityWarning, "server.shutdown_timeout", "not positive; in-flight requests are cut off on shutdown")
	}

	if !contains(StoreKinds, c.Store.Kind) {
		add(SeverityError, "store.kind", "unknown backend %q (want one of %s)", c.Store.Kind, strings.Join(StoreKinds, ", "))
	}
	if c.Store.Kind == "sqlite" && c.Store.DSN == "" && c.Store.Database == "" {
		add(SeverityError, "store.database", "sqlite needs a file path (or :memory:)")
	}
	if c.Store.Kind != "sqlite" && c.Store.DSN == "" && c.Store.Host == "" {
		add(SeverityError, "store.host", "required when store.dsn is empty")
	}
	if c.Store.Port < 0 || c.Store.Port > 65535 {
		add(SeverityError, "store.port", "out of range: %d", c.Store.Port)
	}
	if c.Store.MaxConns < 0 {
		add(SeverityError, "store.max_conns", "must not be negative")
	}
	if c.Store.DSN != "" && c.Store.Password != "" {
		add(SeverityWarning, "store.password", "ignored because store.dsn is set")
	}
	if c.Store.Kind == "sqlite" && c.Ingest.LockTables {
		add(SeverityWarning, "ingest.lock_tables", "sqlite has no table locks; option has no effect")
	}

	switch strings.ToLower(c.Ingest.Mode) {
	case "per_file", "per-file", "shared":
	default:
		add(SeverityError, "ingest.mode", "unknown mode %q (want per_file or shared)", c.Ingest.Mode)
	}
	if c.Ingest.TablePrefix != "" {
		if err := storage.ValidateIdentifier(c.Ingest.TablePrefix + "x"); err != nil {
			add(SeverityError, "ingest.table_prefix", "%v", err)
		}
	}
	for _, p := range []struct{ path, name string }{
		{"ingest.json_table", c.Ingest.JSONTable},
		{"ingest.shared_table", c.Ingest.SharedTable},
	} {
		if p.name == "" {
			continue
		}
		if err := storage.ValidateTableName(p.name); err != nil {
			add(SeverityError, p.path, "%v", err)
		}
	}
	if len(c.Ingest.JSONRequiredKeys) == 0 {
		add(SeverityWarning, "ingest.json_required_keys", "empty; JSON bodies are accepted with any keys")
	}

	switch c.Metrics.Backend {
	case "", "none":
	case "datadog":
		if c.Metrics.FlushEvery <= 0 {
			add(SeverityError, "metrics.flush_every", "must be positive for datadog")
		}
	case "pushgateway":
		if u, err := url.Parse(c.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "metrics.pushgateway_url", "not an absolute URL: %q", c.Metrics.PushgatewayURL)
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none, datadog or pushgateway)", c.Metrics.Backend)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add(SeverityError, "log.level", "unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add(SeverityError, "log.format", "unknown format %q (want text or json)", c.Log.Format)
	}
	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
