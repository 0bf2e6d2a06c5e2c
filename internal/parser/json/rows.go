// Package json loads JSON request bodies and .json uploads into a dataset.
//
// Accepted shapes:
//   - a single object, which becomes one row
//   - an array of objects, one row per element (null elements are skipped)
//   - either of the above followed by more objects (JSON Lines)
//   - with Options.RecordsKey set, an object whose RecordsKey field holds
//     the array of objects
//
// Columns are the normalized keys in first-seen order across all rows.
// Numbers are kept as json.Number so their text survives unchanged.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"ingest/internal/dataset"
)

// Options tunes the loader.
type Options struct {
	// RequiredKeys must be present in every row, after normalization.
	RequiredKeys []string

	// RecordsKey names the field of a root object that holds the rows.
	RecordsKey string
}

// MissingKeysError reports a row lacking required keys.
type MissingKeysError struct {
	Row  int
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("row %d: missing required keys: %s", e.Row, strings.Join(e.Keys, ", "))
}

type loader struct {
	ctx      context.Context
	dec      *json.Decoder
	opt      Options
	ds       *dataset.Dataset
	seen     map[string]struct{}
	names    map[string]string // raw key -> column, stable across rows
	required []string
}

// Parse decodes r until EOF.
func Parse(ctx context.Context, r io.Reader, source string, opt Options) (*dataset.Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	l := &loader{
		ctx:   ctx,
		dec:   dec,
		opt:   opt,
		ds:    dataset.New(source, nil),
		seen:  make(map[string]struct{}),
		names: make(map[string]string),
	}
	for i, k := range opt.RequiredKeys {
		l.required = append(l.required, dataset.NormalizeColumnName(k, i))
	}

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("json: %s: empty input", source)
	}
	if err != nil {
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := l.array(); err != nil {
			return nil, err
		}
	case json.Delim('{'):
		if err := l.rootObject(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	if err := l.trailing(); err != nil {
		return nil, err
	}
	return l.ds, nil
}

// array reads the elements of an array whose '[' was consumed, and the ']'.
func (l *loader) array() error {
	for l.dec.More() {
		if err := l.ctx.Err(); err != nil {
			return err
		}
		tok, err := l.dec.Token()
		if err != nil {
			return fmt.Errorf("json: read array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: row %d: array element is not an object", l.ds.Len()+1)
		}
		if err := l.object(); err != nil {
			return err
		}
	}
	return l.expect(json.Delim(']'))
}

// rootObject handles a root '{': either a single row or, when RecordsKey
// matches one of its fields, the envelope around the rows.
func (l *loader) rootObject() error {
	if l.opt.RecordsKey == "" {
		return l.object()
	}

	keys, vals := []string{}, []any{}
	found := false
	for l.dec.More() {
		key, err := l.key()
		if err != nil {
			return err
		}
		if key == l.opt.RecordsKey && !found {
			tok, err := l.dec.Token()
			if err != nil {
				return fmt.Errorf("json: read %q: %w", key, err)
			}
			if tok != json.Delim('[') {
				return fmt.Errorf("json: %q is not an array", key)
			}
			if err := l.array(); err != nil {
				return err
			}
			found = true
			continue
		}
		var v any
		if err := l.dec.Decode(&v); err != nil {
			return fmt.Errorf("json: decode %q: %w", key, err)
		}
		keys, vals = append(keys, key), append(vals, v)
	}
	if err := l.expect(json.Delim('}')); err != nil {
		return err
	}
	if found {
		return nil
	}
	return l.emit(keys, vals)
}

// object reads one row whose '{' was consumed, and the '}'.
func (l *loader) object() error {
	var keys []string
	var vals []any
	for l.dec.More() {
		key, err := l.key()
		if err != nil {
			return err
		}
		var v any
		if err := l.dec.Decode(&v); err != nil {
			return fmt.Errorf("json: row %d: decode %q: %w", l.ds.Len()+1, key, err)
		}
		keys, vals = append(keys, key), append(vals, v)
	}
	if err := l.expect(json.Delim('}')); err != nil {
		return err
	}
	return l.emit(keys, vals)
}

// trailing reads JSON Lines objects following the root value.
func (l *loader) trailing() error {
	for {
		if err := l.ctx.Err(); err != nil {
			return err
		}
		tok, err := l.dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: read trailing value: %w", err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: unexpected trailing token %v", tok)
		}
		if err := l.object(); err != nil {
			return err
		}
	}
}

func (l *loader) key() (string, error) {
	tok, err := l.dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read object key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("json: object key not a string (got %T)", tok)
	}
	return key, nil
}

func (l *loader) expect(want json.Delim) error {
	tok, err := l.dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// column returns the column for a raw key. Keys that normalize to nothing
// are named after the dataset position where they first appeared.
func (l *loader) column(raw string) string {
	if col, ok := l.names[raw]; ok {
		return col
	}
	col := dataset.NormalizeColumnName(raw, len(l.ds.Columns))
	l.names[raw] = col
	return col
}

// emit normalizes keys, extends the column list and appends the row.
func (l *loader) emit(keys []string, vals []any) error {
	rowNum := l.ds.Len() + 1
	row := make(dataset.Row, len(keys))
	pos := make(map[string]int, len(keys))
	for i, raw := range keys {
		col := l.column(raw)
		if first, dup := pos[col]; dup {
			return fmt.Errorf("json: row %d: %w", rowNum, &dataset.DuplicateColumnError{Column: col, First: first, Second: i})
		}
		pos[col] = i
		row[col] = vals[i]
		if _, ok := l.seen[col]; !ok {
			l.seen[col] = struct{}{}
			l.ds.Columns = append(l.ds.Columns, col)
		}
	}

	var missing []string
	for _, k := range l.required {
		if _, ok := row[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Row: rowNum, Keys: missing}
	}

	l.ds.Append(row)
	return nil
}
