package ingest

import (
	"context"
	"fmt"
	"strings"

	"ingest/internal/storage"
)

// Action is what Reconcile did to the destination table.
type Action string

const (
	ActionCreated      Action = "created"
	ActionColumnsAdded Action = "columns_added"
	ActionNoChange     Action = "no_change"
)

// ReconcileResult describes the schema work performed for one ingestion.
type ReconcileResult struct {
	Table        string   `json:"table"`
	Action       Action   `json:"action"`
	AddedColumns []string `json:"added_columns,omitempty"`
}

// Reconcile makes table carry every entry of columns.
//
// A missing table is created with id, one text column per entry (in order)
// and created_at, then committed. For an existing table the columns it
// lacks are added one ALTER at a time, each followed by a commit, in dataset
// order. Existing columns are never dropped, renamed or retyped, so
// reconciling the same column set twice is a no-op.
//
// Every failure is returned as *SchemaError. Columns added before a failure
// remain.
func Reconcile(ctx context.Context, sess storage.Session, table string, columns []string) (ReconcileResult, error) {
	res := ReconcileResult{Table: table}
	schemaErr := func(op string, err error) error {
		return &SchemaError{Table: table, Cause: fmt.Errorf("%s: %w", op, err)}
	}

	exists, err := sess.TableExists(ctx, table)
	if err != nil {
		return res, schemaErr("check table", err)
	}

	if !exists {
		if err := sess.CreateTable(ctx, table, columns); err != nil {
			return res, schemaErr("create table", err)
		}
		if err := sess.Commit(ctx); err != nil {
			return res, schemaErr("commit create table", err)
		}
		res.Action = ActionCreated
		return res, nil
	}

	existing, err := sess.Columns(ctx, table)
	if err != nil {
		return res, schemaErr("list columns", err)
	}

	for _, col := range missingColumns(existing, columns) {
		if err := sess.AddColumn(ctx, table, col); err != nil {
			return res, schemaErr("add column "+col, err)
		}
		if err := sess.Commit(ctx); err != nil {
			return res, schemaErr("commit add column "+col, err)
		}
		res.AddedColumns = append(res.AddedColumns, col)
	}

	if len(res.AddedColumns) > 0 {
		res.Action = ActionColumnsAdded
	} else {
		res.Action = ActionNoChange
	}
	return res, nil
}

// missingColumns returns the entries of want absent from have, in want's
// order. Comparison ignores case because SQL Server metadata may fold it.
func missingColumns(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = struct{}{}
	}
	var out []string
	for _, c := range want {
		if _, ok := set[strings.ToLower(c)]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
