package ingest

import (
	"context"

	"ingest/internal/dataset"
	"ingest/internal/storage"
)

// InsertResult reports how many rows were committed.
type InsertResult struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
}

// InsertRows inserts rows into table over exactly columns, one statement per
// row, then commits once. Values are stringified; a column a row lacks is
// stored as "".
//
// On failure it returns *InsertError and commits nothing; the caller's
// Session.Close discards the rows executed so far.
func InsertRows(ctx context.Context, sess storage.Session, table string, columns []string, rows []dataset.Row) (InsertResult, error) {
	n, err := executeRows(ctx, sess, table, columns, rows)
	if err != nil {
		return InsertResult{Table: table}, err
	}
	if err := sess.Commit(ctx); err != nil {
		return InsertResult{Table: table}, &InsertError{Table: table, Row: -1, Cause: err}
	}
	return InsertResult{Table: table, Rows: n}, nil
}

// executeRows runs the inserts without committing.
func executeRows(ctx context.Context, sess storage.Session, table string, columns []string, rows []dataset.Row) (int, error) {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return i, &InsertError{Table: table, Row: i, Cause: err}
		}
		if err := sess.InsertRow(ctx, table, columns, row.Values(columns)); err != nil {
			return i, &InsertError{Table: table, Row: i, Cause: err}
		}
	}
	return len(rows), nil
}
