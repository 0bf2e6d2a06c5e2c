package json

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/dataset"
)

func parse(t *testing.T, in string, opt Options) (*dataset.Dataset, error) {
	t.Helper()
	return Parse(context.Background(), strings.NewReader(in), "json", opt)
}

func TestParse_SingleObject(t *testing.T) {
	ds, err := parse(t, `{"field1":"x","field2":"y"}`, Options{RequiredKeys: []string{"field1", "field2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"field1", "field2"}, ds.Columns)
	require.Len(t, ds.Rows, 1)
	assert.Equal(t, dataset.Row{"field1": "x", "field2": "y"}, ds.Rows[0])
}

func TestParse_ArrayKeepsFirstSeenKeyOrder(t *testing.T) {
	ds, err := parse(t, `[{"b":1,"a":2.50}, null, {"c":true,"a":null}, {"Nested":{"k":[1,2]}}]`, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c", "nested"}, ds.Columns)
	require.Len(t, ds.Rows, 3)
	assert.Equal(t, json.Number("2.50"), ds.Rows[0]["a"])
	assert.Equal(t, []string{"1", "2.50", "", ""}, ds.Rows[0].Values(ds.Columns))
	assert.Equal(t, []string{"", "", "true", ""}, ds.Rows[1].Values(ds.Columns))
	assert.Equal(t, `{"k":[1,2]}`, ds.Rows[2].Values(ds.Columns)[3])
}

func TestParse_JSONLines(t *testing.T) {
	ds, err := parse(t, "{\"a\":1}\n{\"a\":2,\"b\":3}\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ds.Columns)
	assert.Equal(t, 2, ds.Len())

	ds, err = parse(t, "[{\"a\":1}]\n{\"a\":2}", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestParse_RecordsKey(t *testing.T) {
	in := `{"meta":{"page":1},"records":[{"x":"1"},{"x":"2"}],"total":2}`
	ds, err := parse(t, in, Options{RecordsKey: "records"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ds.Columns)
	assert.Equal(t, 2, ds.Len())

	// without the envelope field the object is a plain row
	ds, err = parse(t, `{"meta":1}`, Options{RecordsKey: "records"})
	require.NoError(t, err)
	assert.Equal(t, []string{"meta"}, ds.Columns)
	assert.Equal(t, 1, ds.Len())
}

func TestParse_MissingRequiredKeys(t *testing.T) {
	_, err := parse(t, `[{"field1":"x","field2":"y"},{"field1":"z"}]`, Options{RequiredKeys: []string{"field1", "field2"}})
	var mk *MissingKeysError
	require.True(t, errors.As(err, &mk))
	assert.Equal(t, 2, mk.Row)
	assert.Equal(t, []string{"field2"}, mk.Keys)
	assert.EqualError(t, err, "row 2: missing required keys: field2")

	// null is present, not missing
	_, err = parse(t, `{"field1":null,"field2":"y"}`, Options{RequiredKeys: []string{"field1", "field2"}})
	assert.NoError(t, err)
}

func TestParse_KeysCollidingAfterNormalization(t *testing.T) {
	_, err := parse(t, `{"Name":"a","name":"b"}`, Options{})
	var dup *dataset.DuplicateColumnError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "name", dup.Column)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty":          ``,
		"scalar_root":    `42`,
		"scalar_element": `[1,2]`,
		"truncated":      `[{"a":1}`,
		"bad_trailing":   `{"a":1} [1]`,
		"records_scalar": `{"records":5}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, in, Options{RecordsKey: "records"})
			assert.Error(t, err)
		})
	}
}

func TestParse_EmptyKeyKeepsOneColumn(t *testing.T) {
	ds, err := parse(t, `[{"":"a","x":"1"},{"x":"2","":"b"},{"!!":"c","":"d"}]`, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"column_1", "x", "column_3"}, ds.Columns)
	assert.Equal(t, []string{"a", "1", ""}, ds.Rows[0].Values(ds.Columns))
	assert.Equal(t, []string{"b", "2", ""}, ds.Rows[1].Values(ds.Columns))
	assert.Equal(t, []string{"d", "", "c"}, ds.Rows[2].Values(ds.Columns))
}
