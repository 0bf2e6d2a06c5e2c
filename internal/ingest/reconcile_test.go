package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/dataset"
)

func TestReconcile_CreatesMissingTable(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()

	res, err := Reconcile(ctx, sess, "t", []string{"name", "age"})
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, res.Action)
	assert.Empty(t, res.AddedColumns)
	assert.Equal(t, []string{"name", "age"}, sess.tables["t"])
	assert.Equal(t, []string{"exists t", "create t name,age", "commit"}, sess.calls)
}

func TestReconcile_AddsMissingColumnsInDatasetOrder(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()
	sess.tables["t"] = []string{"b", "a"}

	res, err := Reconcile(ctx, sess, "t", []string{"d", "a", "c", "b"})
	require.NoError(t, err)

	assert.Equal(t, ActionColumnsAdded, res.Action)
	assert.Equal(t, []string{"d", "c"}, res.AddedColumns)
	assert.Equal(t, []string{"b", "a", "d", "c"}, sess.tables["t"])
	// one commit per added column
	assert.Equal(t, []string{"exists t", "columns t", "add t d", "commit", "add t c", "commit"}, sess.calls)
}

func TestReconcile_NoChangeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()

	_, err := Reconcile(ctx, sess, "t", []string{"a", "b"})
	require.NoError(t, err)
	res, err := Reconcile(ctx, sess, "t", []string{"b", "a"})
	require.NoError(t, err)

	assert.Equal(t, ActionNoChange, res.Action)
	assert.Equal(t, []string{"a", "b"}, sess.tables["t"])
}

func TestReconcile_SubsetNeverDropsColumns(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()
	sess.tables["t"] = []string{"a", "b", "c"}

	res, err := Reconcile(ctx, sess, "t", []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, res.Action)
	assert.Equal(t, []string{"a", "b", "c"}, sess.tables["t"])
}

func TestReconcile_ColumnMatchIgnoresCase(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()
	sess.tables["t"] = []string{"Name"}

	res, err := Reconcile(ctx, sess, "t", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, res.Action)
}

func TestReconcile_FailuresAreSchemaErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(*fakeSession)
		cols  []string
	}{
		{"exists", func(s *fakeSession) { s.failExists = boom }, []string{"a"}},
		{"create", func(s *fakeSession) { s.failCreate = boom }, []string{"a"}},
		{"columns", func(s *fakeSession) {
			s.tables["t"] = []string{"a"}
			s.failColumns = boom
		}, []string{"a"}},
		{"add", func(s *fakeSession) {
			s.tables["t"] = []string{"a"}
			s.failAdd = map[string]error{"b": boom}
		}, []string{"a", "b"}},
		{"commit", func(s *fakeSession) { s.failCommit = boom }, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			tt.setup(sess)

			_, err := Reconcile(context.Background(), sess, "t", tt.cols)
			require.Error(t, err)

			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "t", se.Table)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, KindSchema, KindOf(err))
		})
	}
}

func TestReconcile_PartialAddKeepsEarlierColumns(t *testing.T) {
	sess := newFakeSession()
	sess.tables["t"] = []string{"a"}
	sess.failAdd = map[string]error{"c": errors.New("disk full")}

	_, err := Reconcile(context.Background(), sess, "t", []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, sess.tables["t"])
}

func TestInsertRows_CommitsOnceAndFillsMissing(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()
	sess.tables["t"] = []string{"name", "age"}

	rows := []dataset.Row{
		{"name": "Ann", "age": 31},
		{"name": "Bob"},
		{"age": nil, "name": "Cy"},
	}
	res, err := InsertRows(ctx, sess, "t", []string{"name", "age"}, rows)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, sess.commits)
	assert.Equal(t, [][]string{{"Ann", "31"}, {"Bob", ""}, {"Cy", ""}}, sess.rows["t"])
}

func TestInsertRows_FailingRowDiscardsBatch(t *testing.T) {
	ctx := context.Background()
	sess := newFakeSession()
	sess.tables["t"] = []string{"a"}
	sess.failInsert = map[int]error{2: errors.New("value too long")}

	rows := []dataset.Row{{"a": "1"}, {"a": "2"}, {"a": "3"}, {"a": "4"}}
	_, err := InsertRows(ctx, sess, "t", []string{"a"}, rows)
	require.Error(t, err)

	var ie *InsertError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Row)
	assert.Equal(t, KindInsert, KindOf(err))
	assert.Equal(t, 3, sess.inserts, "processing stops at the failing row")
	assert.Zero(t, sess.commits)

	require.NoError(t, sess.Close())
	assert.Empty(t, sess.rows["t"])
}

func TestInsertRows_CommitFailure(t *testing.T) {
	sess := newFakeSession()
	sess.tables["t"] = []string{"a"}
	sess.failCommit = errors.New("serialization failure")

	_, err := InsertRows(context.Background(), sess, "t", []string{"a"}, []dataset.Row{{"a": "1"}})

	var ie *InsertError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, -1, ie.Row)
	assert.Contains(t, err.Error(), "at commit")
}

func TestInsertRows_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := newFakeSession()

	_, err := InsertRows(ctx, sess, "t", []string{"a"}, []dataset.Row{{"a": "1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sess.inserts)
}
