package mssql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"ingest/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	storage.Register("mssql", New)
}

// Store implements storage.Store for Microsoft SQL Server.
//
// Columns are NVARCHAR(MAX) NULL, the id is INT IDENTITY and created_at is a
// DATETIME2 defaulting to SYSUTCDATETIME(). Like Postgres, SQL Server DDL
// participates in the surrounding transaction.
type Store struct {
	db          *sql.DB
	conditional bool
}

// New opens a "sqlserver" database/sql handle. database/sql connects
// lazily, so connectivity problems surface at Session.
func New(_ context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", buildDSN(cfg))
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	return newStore(db, cfg.ConditionalDDL), nil
}

func newStore(db *sql.DB, conditional bool) *Store {
	return &Store{db: db, conditional: conditional}
}

// Close releases database resources held by this store.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Session(ctx context.Context) (storage.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("mssql: acquire connection: %w", err)
	}
	return &session{conn: conn, conditional: s.conditional}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return storage.RunMigrations(ctx, s.db, "mssql", migrations)
}

func (s *Store) RecentIngestions(ctx context.Context, limit int) ([]storage.IngestionRecord, error) {
	rows, err := s.db.QueryContext(ctx, recentAuditSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("mssql: RecentIngestions: %w", err)
	}
	defer rows.Close()

	var out []storage.IngestionRecord
	for rows.Next() {
		var r storage.IngestionRecord
		if err := rows.Scan(&r.ID, &r.Table, &r.Source, &r.Action, &r.Rows, &r.AddedColumns, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("mssql: RecentIngestions scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mssql: RecentIngestions rows: %w", err)
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
