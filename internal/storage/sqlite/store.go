package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "modernc.org/sqlite"

	"ingest/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	storage.Register("sqlite", New)
}

// Store implements storage.Store for SQLite (modernc.org/sqlite, no cgo).
//
// SQLite allows one writer at a time, so the pool is capped at a single
// connection. That also keeps ":memory:" databases coherent, since every
// new connection to ":memory:" would otherwise see an empty database.
// A Session holds that connection until Close.
type Store struct {
	db          *sql.DB
	conditional bool
}

// New opens the database at cfg.DSN, or cfg.Database when DSN is empty.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Database
	}
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: store.dsn or store.database is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, conditional: cfg.ConditionalDDL}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Session(ctx context.Context) (storage.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: acquire connection: %w", err)
	}
	return &session{conn: conn, conditional: s.conditional}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return storage.RunMigrations(ctx, s.db, "sqlite3", migrations)
}

func (s *Store) RecentIngestions(ctx context.Context, limit int) ([]storage.IngestionRecord, error) {
	rows, err := s.db.QueryContext(ctx, recentAuditSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentIngestions: query: %w", err)
	}
	defer rows.Close()

	var out []storage.IngestionRecord
	for rows.Next() {
		var (
			r       storage.IngestionRecord
			created any
		)
		if err := rows.Scan(&r.ID, &r.Table, &r.Source, &r.Action, &r.Rows, &r.AddedColumns, &created); err != nil {
			return nil, fmt.Errorf("RecentIngestions: scan: %w", err)
		}
		if r.CreatedAt, err = scanTime(created); err != nil {
			return nil, fmt.Errorf("RecentIngestions: created_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecentIngestions: rows: %w", err)
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
