package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config is the backend-agnostic store configuration.
//
// Backends build their connection string from the discrete fields when DSN
// is empty, so deployments can pass host/port/database/credentials through
// configuration instead of a hand-assembled DSN.
//
// Edge cases:
//   - Kind must be non-empty and registered (see Register).
//   - For sqlite, Database is the file path (":memory:" is accepted).
type Config struct {
	Kind     string
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// ConditionalDDL makes CREATE TABLE / ADD COLUMN tolerate concurrent
	// creators (IF NOT EXISTS or the backend's equivalent guard).
	ConditionalDDL bool

	// MaxConns caps the backend connection pool. Zero keeps the backend default.
	MaxConns int
}

// IngestionRecord is one row of the ingest_log audit table.
type IngestionRecord struct {
	ID           int64     `json:"id"`
	Table        string    `json:"table"`
	Source       string    `json:"source"`
	Action       string    `json:"action"`
	Rows         int64     `json:"rows"`
	AddedColumns string    `json:"added_columns"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a live connection to the store scoped to one ingestion.
//
// Statements run inside an implicit transaction that starts with the first
// statement after construction or after Commit. Close rolls back whatever
// has not been committed and releases the connection; it must be called on
// every exit path.
type Session interface {
	// TableExists reports whether table exists in the session's schema.
	TableExists(ctx context.Context, table string) (bool, error)

	// Columns lists the table's columns in ordinal order, excluding the
	// reserved id and created_at columns.
	Columns(ctx context.Context, table string) ([]string, error)

	// CreateTable creates table with an auto-increment id primary key, one
	// nullable text column per entry of columns and a defaulted created_at.
	CreateTable(ctx context.Context, table string, columns []string) error

	// AddColumn adds a nullable text column.
	AddColumn(ctx context.Context, table, column string) error

	// InsertRow inserts one row; values are bound as parameters and must
	// align with columns.
	InsertRow(ctx context.Context, table string, columns []string, values []string) error

	// RecordIngestion writes an ingest_log row in the current transaction.
	RecordIngestion(ctx context.Context, rec IngestionRecord) error

	Commit(ctx context.Context) error
	Close() error
}

// TableLocker is implemented by sessions that can serialize schema work on a
// table across concurrent sessions. The lock is released by Session.Close.
type TableLocker interface {
	LockTable(ctx context.Context, table string) error
}

// Store is a backend connection pool.
type Store interface {
	// Session acquires a connection. Errors here mean the store is unreachable.
	Session(ctx context.Context) (Session, error)

	Ping(ctx context.Context) error

	// Migrate applies the embedded migrations (ingest_log).
	Migrate(ctx context.Context) error

	// RecentIngestions returns up to limit audit rows, newest first.
	RecentIngestions(ctx context.Context, limit int) ([]IngestionRecord, error)

	// Close releases backend resources. Call once.
	Close()
}

// ---- factories ----

// Factory constructs a Store for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Two backends claiming one kind would
//     make backend selection ambiguous.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
