// Package dataset holds the canonical in-memory form of an uploaded table:
// an ordered column list plus rows keyed by column name.
//
// Loaders in internal/parser produce a *Dataset; internal/ingest consumes it.
// A Dataset lives for one request and is never persisted as such.
package dataset

import (
	"errors"
	"fmt"
)

// Row maps a subset of the dataset's columns to raw values.
//
// A column that is absent from the map (or maps to nil) is stored as an
// empty string by the inserter.
type Row map[string]any

// Dataset is a parsed tabular payload.
type Dataset struct {
	// Source names where the data came from (upload file name, "json", ...).
	Source string

	// Columns is the ordered list of column names. Insert statements always
	// cover exactly this list, in this order.
	Columns []string

	Rows []Row
}

// ErrNoColumns is returned by Validate when a dataset has no header.
var ErrNoColumns = errors.New("dataset has no columns")

// DuplicateColumnError reports a column name that appears more than once
// after header normalization.
type DuplicateColumnError struct {
	Column string
	First  int
	Second int
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("duplicate column %q at positions %d and %d", e.Column, e.First, e.Second)
}

// New returns an empty dataset with the given columns.
func New(source string, columns []string) *Dataset {
	return &Dataset{
		Source:  source,
		Columns: append([]string(nil), columns...),
	}
}

// Append adds a row. The row is stored as-is; keys outside Columns are kept
// but never inserted.
func (d *Dataset) Append(r Row) {
	d.Rows = append(d.Rows, r)
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// Validate checks the invariants the reconciler relies on:
//   - at least one column
//   - column names are unique (duplicates are rejected rather than merged)
func (d *Dataset) Validate() error {
	if len(d.Columns) == 0 {
		return ErrNoColumns
	}
	seen := make(map[string]int, len(d.Columns))
	for i, c := range d.Columns {
		if j, ok := seen[c]; ok {
			return &DuplicateColumnError{Column: c, First: j, Second: i}
		}
		seen[c] = i
	}
	return nil
}

// Values returns the stringified values of r aligned to columns.
// Missing and nil values become "".
func (r Row) Values(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		v, ok := r[c]
		if !ok {
			continue
		}
		out[i] = Stringify(v)
	}
	return out
}
