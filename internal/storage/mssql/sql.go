package mssql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"ingest/internal/storage"
)

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// nstring renders a Unicode string literal.
func nstring(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// buildCreateTableSQL renders the CREATE TABLE for an ingest table.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS; the conditional form wraps
// the statement in an OBJECT_ID guard.
func buildCreateTableSQL(table string, columns []string, conditional bool) string {
	defs := make([]string, 0, len(columns)+2)
	defs = append(defs, mssqlIdent(storage.IDColumn)+" INT IDENTITY(1,1) PRIMARY KEY")
	for _, c := range columns {
		defs = append(defs, mssqlIdent(c)+" NVARCHAR(MAX) NULL")
	}
	defs = append(defs, mssqlIdent(storage.CreatedAtColumn)+" DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()")

	create := fmt.Sprintf("CREATE TABLE %s (%s)", mssqlIdent(table), strings.Join(defs, ", "))
	if !conditional {
		return create
	}
	return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NULL BEGIN %s; END;", nstring(mssqlIdent(table)), create)
}

// buildAddColumnSQL renders ALTER TABLE ... ADD; the conditional form checks
// COL_LENGTH first.
func buildAddColumnSQL(table, column string, conditional bool) string {
	alter := fmt.Sprintf("ALTER TABLE %s ADD %s NVARCHAR(MAX) NULL", mssqlIdent(table), mssqlIdent(column))
	if !conditional {
		return alter
	}
	return fmt.Sprintf("IF COL_LENGTH(%s, %s) IS NULL BEGIN %s; END;",
		nstring(mssqlIdent(table)), nstring(column), alter)
}

// buildInsertSQL constructs a single-row INSERT with @pN placeholders.
func buildInsertSQL(table string, columns []string, values []string) (string, []any) {
	cols := make([]string, len(columns))
	ph := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = mssqlIdent(c)
		ph[i] = "@p" + strconv.Itoa(i+1)
		args[i] = values[i]
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", mssqlIdent(table), strings.Join(cols, ", "), strings.Join(ph, ", "))
	return q, args
}

const (
	tableExistsSQL = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1`

	listColumnsSQL = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1
ORDER BY ORDINAL_POSITION`

	insertAuditSQL = `INSERT INTO ingest_log (table_name, source, action, rows_inserted, added_columns)
VALUES (@p1, @p2, @p3, @p4, @p5)`

	recentAuditSQL = `SELECT TOP (@p1) id, table_name, source, action, rows_inserted, added_columns, created_at
FROM ingest_log
ORDER BY id DESC`

	// Session-owned application locks survive intermediate commits.
	lockTableSQL   = `EXEC sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session'`
	unlockTableSQL = `EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'`
)

// buildDSN returns cfg.DSN or a sqlserver:// URL assembled from the
// discrete fields.
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
		port = 1433
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   host + ":" + strconv.Itoa(port),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
