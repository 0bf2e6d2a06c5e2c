package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"ingest/internal/dataset"
	"ingest/internal/storage"
	_ "ingest/internal/storage/sqlite"
)

// sqliteFixture opens a file-backed store for the service plus a second
// read-only handle for assertions. Assertions run between ingestions, when
// the store's single connection is idle.
func sqliteFixture(t *testing.T, opts Options) (*Service, storage.Store, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest.db")

	st, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", Database: path})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))

	check, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = check.Close() })

	svc, err := NewService(st, opts)
	require.NoError(t, err)
	return svc, st, check
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		out = append(out, n)
	}
	require.NoError(t, rows.Err())
	return out
}

func selectAll(t *testing.T, db *sql.DB, query string) [][]string {
	t.Helper()
	rows, err := db.Query(query)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)

	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		row := make([]string, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "<null>"
			}
		}
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestSQLite_UploadCreatesTable(t *testing.T) {
	svc, _, db := sqliteFixture(t, Options{})
	ctx := context.Background()

	table, err := svc.TableForFile("people.xlsx")
	require.NoError(t, err)
	out, err := svc.Ingest(ctx, table, people())
	require.NoError(t, err)

	assert.Equal(t, "table_people", out.Table)
	assert.Equal(t, ActionCreated, out.Action)
	assert.Equal(t, []string{"id", "name", "age", "created_at"}, tableColumns(t, db, "table_people"))
	assert.Equal(t, [][]string{{"Ann", "31"}, {"Bob", "40"}},
		selectAll(t, db, `SELECT name, age FROM table_people ORDER BY id`))

	var created int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM table_people WHERE created_at IS NOT NULL AND id IS NOT NULL`).Scan(&created))
	assert.Equal(t, 2, created)
}

func TestSQLite_JSONBodyGoesToDataTable(t *testing.T) {
	svc, _, db := sqliteFixture(t, Options{})

	ds := dataset.New("json", []string{"field1", "field2"})
	ds.Append(dataset.Row{"field1": "x", "field2": "y"})

	out, err := svc.Ingest(context.Background(), svc.TableForJSON(), ds)
	require.NoError(t, err)
	assert.Equal(t, "data_table", out.Table)
	assert.Equal(t, []string{"id", "field1", "field2", "created_at"}, tableColumns(t, db, "data_table"))
	assert.Equal(t, [][]string{{"x", "y"}}, selectAll(t, db, `SELECT field1, field2 FROM data_table`))
}

func TestSQLite_SameDatasetTwiceSucceeds(t *testing.T) {
	svc, _, db := sqliteFixture(t, Options{})
	ctx := context.Background()

	first, err := svc.Ingest(ctx, "table_people", people())
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, "table_people", people())
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, first.Action)
	assert.Equal(t, ActionNoChange, second.Action)
	assert.Equal(t, StateCommitted, second.State)
	assert.Len(t, selectAll(t, db, `SELECT id FROM table_people`), 4)
}

func TestSQLite_SchemaGrowsWithoutLosingValues(t *testing.T) {
	svc, _, db := sqliteFixture(t, Options{AuditLog: true})
	ctx := context.Background()

	ab := dataset.New("one.csv", []string{"a", "b"})
	ab.Append(dataset.Row{"a": "a1", "b": "b1"})
	bc := dataset.New("two.csv", []string{"b", "c"})
	bc.Append(dataset.Row{"b": "b2", "c": "c2"})

	_, err := svc.Ingest(ctx, "t", ab)
	require.NoError(t, err)
	out, err := svc.Ingest(ctx, "t", bc)
	require.NoError(t, err)

	assert.Equal(t, ActionColumnsAdded, out.Action)
	assert.Equal(t, []string{"c"}, out.AddedColumns)
	assert.Equal(t, []string{"id", "a", "b", "created_at", "c"}, tableColumns(t, db, "t"))

	// The first row predates column c; the second never carried a.
	assert.Equal(t, [][]string{{"a1", "b1", "<null>"}, {"<null>", "b2", "c2"}},
		selectAll(t, db, `SELECT a, b, c FROM t ORDER BY id`))

	recs, err := svc.RecentIngestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "columns_added", recs[0].Action)
	assert.Equal(t, "c", recs[0].AddedColumns)
	assert.Equal(t, "two.csv", recs[0].Source)
}

func TestSQLite_MissingValueStoredAsEmptyString(t *testing.T) {
	svc, _, db := sqliteFixture(t, Options{})

	ds := dataset.New("x.csv", []string{"a", "b"})
	ds.Append(dataset.Row{"a": "1"})
	ds.Append(dataset.Row{"a": "2", "b": nil})

	_, err := svc.Ingest(context.Background(), "t", ds)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", ""}, {"2", ""}}, selectAll(t, db, `SELECT a, b FROM t ORDER BY id`))
}

func TestSQLite_ValuesAreBoundNotInterpolated(t *testing.T) {
	svc, _, db := sqliteFixture(t, Options{})

	hostile := `x'); DROP TABLE t; --`
	ds := dataset.New("x.csv", []string{"a"})
	ds.Append(dataset.Row{"a": hostile})

	_, err := svc.Ingest(context.Background(), "t", ds)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{hostile}}, selectAll(t, db, `SELECT a FROM t`))
}

func TestSQLite_StoreUnreachableCreatesNothing(t *testing.T) {
	svc, st, db := sqliteFixture(t, Options{})
	st.Close()

	_, err := svc.Ingest(context.Background(), "table_people", people())
	require.Error(t, err)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Empty(t, tableColumns(t, db, "table_people"))
}

func TestSQLite_ConditionalDDLRepeatedCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	st, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", Database: path, ConditionalDDL: true})
	require.NoError(t, err)
	defer st.Close()

	svc, err := NewService(st, Options{LockTables: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Ingest(context.Background(), "t", people())
		require.NoError(t, err)
	}
}
