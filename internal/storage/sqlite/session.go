package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"ingest/internal/storage"
)

// session owns the store's single connection until Close. SQLite DDL is
// transactional, like Postgres.
type session struct {
	conn        *sql.Conn
	tx          *sql.Tx
	conditional bool
}

func (s *session) begin(ctx context.Context) (*sql.Tx, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("sqlite: session is closed")
	}
	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("sqlite: begin: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *session) TableExists(ctx context.Context, table string) (bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, tableExistsSQL, table).Scan(&n); err != nil {
		return false, fmt.Errorf("TableExists %s: %w", table, err)
	}
	return n > 0, nil
}

func (s *session) Columns(ctx context.Context, table string) ([]string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, listColumnsSQL, table)
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
	err := s.exec(ctx, buildCreateTableSQL(table, columns, s.conditional))
	if s.conditional && isTableExists(err) {
		return nil
	}
	return err
}

func (s *session) AddColumn(ctx context.Context, table, column string) error {
	err := s.exec(ctx, buildAddColumnSQL(table, column))
	if s.conditional && isDuplicateColumn(err) {
		return nil
	}
	return err
}

func (s *session) InsertRow(ctx context.Context, table string, columns []string, values []string) error {
	if len(values) != len(columns) {
		return fmt.Errorf("InsertRow: %d values for %d columns", len(values), len(columns))
	}
	q, args := buildInsertSQL(table, columns, values)
	return s.exec(ctx, q, args...)
}

func (s *session) RecordIngestion(ctx context.Context, rec storage.IngestionRecord) error {
	return s.exec(ctx, insertAuditSQL, rec.Table, rec.Source, rec.Action, rec.Rows, rec.AddedColumns)
}

func (s *session) exec(ctx context.Context, query string, args ...any) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (s *session) Commit(context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	var firstErr error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			firstErr = fmt.Errorf("sqlite: rollback: %w", err)
		}
		s.tx = nil
	}
	if err := s.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.conn = nil
	return firstErr
}

var _ storage.Session = (*session)(nil)
