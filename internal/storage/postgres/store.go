package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"ingest/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

/*
Store implements storage.Store for Postgres.

It provides:
  - one pooled connection per ingestion Session
  - metadata lookups against information_schema in current_schema()
  - optional conditional DDL (IF NOT EXISTS) and per-table advisory locks

The pool connects lazily, so an unreachable server surfaces on the first
Session call rather than at construction.
*/
type Store struct {
	pool        *pgxpool.Pool
	conditional bool
}

// New creates a Postgres-backed Store.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pcfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, conditional: cfg.ConditionalDDL}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Session acquires a dedicated pooled connection.
func (s *Store) Session(ctx context.Context) (storage.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire connection: %w", err)
	}
	return &session{conn: pooledConn{conn}, conditional: s.conditional}, nil
}

// Migrate runs the embedded goose migrations through a database/sql view of
// the pool.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return storage.RunMigrations(ctx, db, "postgres", migrations)
}

// RecentIngestions returns the newest audit rows first.
func (s *Store) RecentIngestions(ctx context.Context, limit int) ([]storage.IngestionRecord, error) {
	rows, err := s.pool.Query(ctx, recentAuditSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentIngestions: query: %w", err)
	}
	defer rows.Close()

	var out []storage.IngestionRecord
	for rows.Next() {
		var r storage.IngestionRecord
		if err := rows.Scan(&r.ID, &r.Table, &r.Source, &r.Action, &r.Rows, &r.AddedColumns, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("RecentIngestions: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecentIngestions: rows: %w", err)
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
