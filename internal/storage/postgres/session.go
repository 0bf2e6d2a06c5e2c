package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/storage"
)

// releaseTimeout bounds the rollback/unlock work done by Close, which runs
// after the request context may already be cancelled.
const releaseTimeout = 5 * time.Second

// conn is the part of a pooled connection a session uses.
type conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()

	// Discard closes the connection instead of returning it to the pool.
	Discard(ctx context.Context) error
}

type pooledConn struct{ *pgxpool.Conn }

func (c pooledConn) Discard(ctx context.Context) error {
	return c.Hijack().Close(ctx)
}

// session is one pooled connection plus the transaction currently open on it.
//
// Postgres DDL is transactional, so CREATE TABLE / ADD COLUMN become visible
// to other sessions only at Commit.
type session struct {
	conn        conn
	tx          pgx.Tx
	conditional bool
	locks       []string
}

// querier is the subset of pgx.Tx used by this file.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// begin returns the open transaction, starting one if needed.
func (s *session) begin(ctx context.Context) (querier, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("postgres: session is closed")
	}
	if s.tx == nil {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("postgres: begin: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *session) TableExists(ctx context.Context, table string) (bool, error) {
	q, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := q.QueryRow(ctx, tableExistsSQL, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("TableExists %s: %w", table, err)
	}
	return exists, nil
}

func (s *session) Columns(ctx context.Context, table string) ([]string, error) {
	q, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, listColumnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("Columns %s: query: %w", table, err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("Columns %s: scan: %w", table, err)
		}
		all = append(all, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Columns %s: rows: %w", table, err)
	}
	return storage.DataColumns(all), nil
}

func (s *session) CreateTable(ctx context.Context, table string, columns []string) error {
	return s.exec(ctx, buildCreateTableSQL(table, columns, s.conditional))
}

func (s *session) AddColumn(ctx context.Context, table, column string) error {
	return s.exec(ctx, buildAddColumnSQL(table, column, s.conditional))
}

func (s *session) InsertRow(ctx context.Context, table string, columns []string, values []string) error {
	if len(values) != len(columns) {
		return fmt.Errorf("InsertRow: %d values for %d columns", len(values), len(columns))
	}
	sql, args := buildInsertSQL(table, columns, values)
	return s.exec(ctx, sql, args...)
}

func (s *session) RecordIngestion(ctx context.Context, rec storage.IngestionRecord) error {
	return s.exec(ctx, insertAuditSQL, rec.Table, rec.Source, rec.Action, rec.Rows, rec.AddedColumns)
}

// LockTable takes a session-level advisory lock keyed on the table name.
// It survives intermediate commits and is released by Close.
func (s *session) LockTable(ctx context.Context, table string) error {
	if s.conn == nil {
		return fmt.Errorf("postgres: session is closed")
	}
	if _, err := s.conn.Exec(ctx, lockTableSQL, table); err != nil {
		return fmt.Errorf("LockTable %s: %w", table, err)
	}
	s.locks = append(s.locks, table)
	return nil
}

func (s *session) exec(ctx context.Context, sql string, args ...any) error {
	q, err := s.begin(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, sql, args...)
	return err
}

func (s *session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit(ctx)
}

// Close rolls back uncommitted work, drops advisory locks and returns the
// connection to the pool. A connection that may still hold a lock is closed
// instead.
func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	var firstErr error
	if s.tx != nil {
		if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			firstErr = fmt.Errorf("postgres: rollback: %w", err)
		}
		s.tx = nil
	}
	stuck := false
	for _, t := range s.locks {
		if _, err := s.conn.Exec(ctx, unlockTableSQL, t); err != nil {
			stuck = true
			if firstErr == nil {
				firstErr = fmt.Errorf("postgres: unlock %s: %w", t, err)
			}
		}
	}
	s.locks = nil

	if stuck {
		if err := s.conn.Discard(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("postgres: discard connection: %w", err)
		}
	} else {
		s.conn.Release()
	}
	s.conn = nil
	return firstErr
}

var (
	_ storage.Session     = (*session)(nil)
	_ storage.TableLocker = (*session)(nil)
)
