package postgres

import (
	"fmt"
	"strings"

	"ingest/internal/storage"
)

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildCreateTableSQL renders the CREATE TABLE for an ingest table:
//
//	id SERIAL PRIMARY KEY, <one TEXT column per entry>, created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
//
// With conditional set, IF NOT EXISTS makes a racing second creator a no-op.
func buildCreateTableSQL(table string, columns []string, conditional bool) string {
	defs := make([]string, 0, len(columns)+2)
	defs = append(defs, fmt.Sprintf("%s SERIAL PRIMARY KEY", pgIdent(storage.IDColumn)))
	for _, c := range columns {
		defs = append(defs, pgIdent(c)+" TEXT")
	}
	defs = append(defs, fmt.Sprintf("%s TIMESTAMP DEFAULT CURRENT_TIMESTAMP", pgIdent(storage.CreatedAtColumn)))

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if conditional {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(defs, ", "))
	b.WriteString(")")
	return b.String()
}

// buildAddColumnSQL renders ALTER TABLE ... ADD COLUMN for a nullable text column.
func buildAddColumnSQL(table, column string, conditional bool) string {
	var b strings.Builder
	b.WriteString("ALTER TABLE ")
	b.WriteString(pgIdent(table))
	b.WriteString(" ADD COLUMN ")
	if conditional {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(pgIdent(column))
	b.WriteString(" TEXT")
	return b.String()
}

// buildInsertSQL constructs a single-row INSERT with $n placeholders.
//
// Constraints:
//   - values must have the same length as columns.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, values []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")

	args := make([]any, 0, len(columns))
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("$%d", i+1))
		args = append(args, values[i])
	}
	b.WriteString(")")
	return b.String(), args
}

const (
	tableExistsSQL = `SELECT EXISTS (
	SELECT FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_name = $1
)`

	listColumnsSQL = `SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

	insertAuditSQL = `INSERT INTO ingest_log (table_name, source, action, rows_inserted, added_columns)
VALUES ($1, $2, $3, $4, $5)`

	recentAuditSQL = `SELECT id, table_name, source, action, rows_inserted, added_columns, created_at
FROM ingest_log
ORDER BY id DESC
LIMIT $1`

	lockTableSQL   = `SELECT pg_advisory_lock(hashtext($1))`
	unlockTableSQL = `SELECT pg_advisory_unlock(hashtext($1))`
)

// buildDSN constructs a keyword/value connection string from discrete config.
// cfg.DSN wins when set.
func buildDSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.User != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.User)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", quoteDSNValue(cfg.Password))
	}
	return dsn
}

// quoteDSNValue single-quotes a keyword/value DSN value when it contains
// characters libpq would otherwise split on.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
