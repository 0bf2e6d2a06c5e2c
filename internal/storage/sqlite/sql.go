package sqlite

import (
	"fmt"
	"strings"
	"time"

	"ingest/internal/storage"
)

// sqlIdent double-quotes an identifier for SQLite.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildCreateTableSQL renders the CREATE TABLE for an ingest table. SQLite
// stores created_at as TEXT in "YYYY-MM-DD HH:MM:SS" form.
func buildCreateTableSQL(table string, columns []string, conditional bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if conditional {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(sqlIdent(storage.IDColumn))
	b.WriteString(" INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c))
		b.WriteString(" TEXT")
	}
	b.WriteString(", ")
	b.WriteString(sqlIdent(storage.CreatedAtColumn))
	b.WriteString(" TIMESTAMP DEFAULT CURRENT_TIMESTAMP)")
	return b.String()
}

// buildAddColumnSQL has no IF NOT EXISTS form in SQLite; conditional callers
// tolerate the duplicate-column error instead (see isDuplicateColumn).
func buildAddColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", sqlIdent(table), sqlIdent(column))
}

// buildInsertSQL constructs a single-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, values []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
	b.WriteString(")")

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return b.String(), args
}

const (
	tableExistsSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	listColumnsSQL = `SELECT name FROM pragma_table_info(?) ORDER BY cid`

	insertAuditSQL = `INSERT INTO ingest_log (table_name, source, action, rows_inserted, added_columns)
VALUES (?, ?, ?, ?, ?)`

	recentAuditSQL = `SELECT id, table_name, source, action, rows_inserted, added_columns, created_at
FROM ingest_log
ORDER BY id DESC
LIMIT ?`
)

// isDuplicateColumn matches SQLite's "duplicate column name: x" error.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// isTableExists matches SQLite's "table x already exists" error.
func isTableExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano and RFC3339
//   - "2006-01-02 15:04:05Z07:00" and its fractional form
//   - "2006-01-02 15:04:05" (CURRENT_TIMESTAMP, interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// scanTime accepts whatever the driver hands back for a TIMESTAMP column.
func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseSQLiteTime(t)
	case []byte:
		return parseSQLiteTime(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}
