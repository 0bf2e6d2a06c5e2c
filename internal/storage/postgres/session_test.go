package postgres

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeConn records what a session sends to its connection. Transactions it
// hands out log into the same slice.
type fakeConn struct {
	calls     []string
	exists    bool
	unlockErr error
	released  bool
	discarded bool
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	c.calls = append(c.calls, "begin")
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.calls = append(c.calls, "conn: "+sql)
	if sql == unlockTableSQL && c.unlockErr != nil {
		return pgconn.CommandTag{}, c.unlockErr
	}
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) Release() { c.released = true }

func (c *fakeConn) Discard(context.Context) error {
	c.discarded = true
	return nil
}

// fakeTx implements the pgx.Tx methods a session calls; anything else
// panics on the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	conn *fakeConn
	done bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.conn.calls = append(t.conn.calls, "tx: "+sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.conn.calls = append(t.conn.calls, "tx: "+sql)
	return boolRow(t.conn.exists)
}

func (t *fakeTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.conn.calls = append(t.conn.calls, "commit")
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.conn.calls = append(t.conn.calls, "rollback")
	return nil
}

type boolRow bool

func (r boolRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = bool(r)
	return nil
}

func TestSession_CommitEndsTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fc := &fakeConn{}
	sess := &session{conn: fc}

	if err := sess.CreateTable(ctx, "t", []string{"a"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for _, v := range []string{"1", "2"} {
		if err := sess.InsertRow(ctx, "t", []string{"a"}, []string{v}); err != nil {
			t.Fatalf("InsertRow: %v", err)
		}
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	insert, _ := buildInsertSQL("t", []string{"a"}, []string{"1"})
	want := []string{
		"begin", "tx: " + buildCreateTableSQL("t", []string{"a"}, false), "commit",
		"begin", "tx: " + insert, "tx: " + insert, "commit",
	}
	if !slices.Equal(fc.calls, want) {
		t.Fatalf("calls mismatch\n got: %q\nwant: %q", fc.calls, want)
	}
	if !fc.released || fc.discarded {
		t.Fatalf("expected connection back in the pool (released=%v discarded=%v)", fc.released, fc.discarded)
	}
}

func TestSession_CloseRollsBackUncommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fc := &fakeConn{}
	sess := &session{conn: fc}

	if err := sess.InsertRow(ctx, "t", []string{"a"}, []string{"x"}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := fc.calls[len(fc.calls)-1]; got != "rollback" {
		t.Fatalf("last call = %q, want rollback", got)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.InsertRow(ctx, "t", []string{"a"}, []string{"y"}); err == nil {
		t.Fatalf("expected error on closed session")
	}
}

func TestSession_TableExists(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{exists: true}
	sess := &session{conn: fc}
	defer sess.Close()

	ok, err := sess.TableExists(context.Background(), "t")
	if err != nil {
		t.Fatalf("TableExists: %v", err)
	}
	if !ok {
		t.Fatalf("expected table to exist")
	}
}

func TestSession_InsertRowArityMismatch(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{}
	sess := &session{conn: fc}
	defer sess.Close()

	if err := sess.InsertRow(context.Background(), "t", []string{"a", "b"}, []string{"x"}); err == nil {
		t.Fatalf("expected arity error")
	}
	if len(fc.calls) != 0 {
		t.Fatalf("nothing should reach the connection: %q", fc.calls)
	}
}

func TestSession_LockReleasedOnClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fc := &fakeConn{}
	sess := &session{conn: fc}

	if err := sess.LockTable(ctx, "t"); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{"conn: " + lockTableSQL, "conn: " + unlockTableSQL}
	if !slices.Equal(fc.calls, want) {
		t.Fatalf("calls mismatch\n got: %q\nwant: %q", fc.calls, want)
	}
	if !fc.released || fc.discarded {
		t.Fatalf("expected release (released=%v discarded=%v)", fc.released, fc.discarded)
	}
}

func TestSession_FailedUnlockDiscardsConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fc := &fakeConn{unlockErr: errors.New("connection reset")}
	sess := &session{conn: fc}

	if err := sess.LockTable(ctx, "t"); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	err := sess.Close()
	if err == nil || !strings.Contains(err.Error(), "unlock t") {
		t.Fatalf("expected unlock error, got %v", err)
	}
	if fc.released || !fc.discarded {
		t.Fatalf("a connection that may hold the lock must not return to the pool (released=%v discarded=%v)", fc.released, fc.discarded)
	}
}
