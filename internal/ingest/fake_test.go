package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ingest/internal/storage"
)

// fakeSession is an in-memory storage.Session that logs every call and
// keeps committed and pending state apart, so tests can assert what Close
// throws away.
type fakeSession struct {
	tables  map[string][]string   // committed schema
	rows    map[string][][]string // committed rows
	pending []func()
	audit   []storage.IngestionRecord
	calls   []string
	locked  []string
	closed  bool

	failExists  error
	failColumns error
	failCreate  error
	failAdd     map[string]error
	failInsert  map[int]error
	failCommit  error
	inserts     int
	commits     int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		tables: map[string][]string{},
		rows:   map[string][][]string{},
	}
}

func (f *fakeSession) TableExists(_ context.Context, table string) (bool, error) {
	f.calls = append(f.calls, "exists "+table)
	if f.failExists != nil {
		return false, f.failExists
	}
	_, ok := f.tables[table]
	return ok, nil
}

func (f *fakeSession) Columns(_ context.Context, table string) ([]string, error) {
	f.calls = append(f.calls, "columns "+table)
	if f.failColumns != nil {
		return nil, f.failColumns
	}
	return append([]string(nil), f.tables[table]...), nil
}

func (f *fakeSession) CreateTable(_ context.Context, table string, columns []string) error {
	f.calls = append(f.calls, "create "+table+" "+strings.Join(columns, ","))
	if f.failCreate != nil {
		return f.failCreate
	}
	cols := append([]string(nil), columns...)
	f.pending = append(f.pending, func() { f.tables[table] = cols })
	return nil
}

func (f *fakeSession) AddColumn(_ context.Context, table, column string) error {
	f.calls = append(f.calls, "add "+table+" "+column)
	if err := f.failAdd[column]; err != nil {
		return err
	}
	f.pending = append(f.pending, func() { f.tables[table] = append(f.tables[table], column) })
	return nil
}

func (f *fakeSession) InsertRow(_ context.Context, table string, columns []string, values []string) error {
	idx := f.inserts
	f.inserts++
	f.calls = append(f.calls, fmt.Sprintf("insert %s %v", table, values))
	if err := f.failInsert[idx]; err != nil {
		return err
	}
	row := make([]string, len(f.tables[table]))
	for i, c := range columns {
		for j, tc := range f.tables[table] {
			if tc == c {
				row[j] = values[i]
			}
		}
	}
	f.pending = append(f.pending, func() { f.rows[table] = append(f.rows[table], row) })
	return nil
}

func (f *fakeSession) RecordIngestion(_ context.Context, rec storage.IngestionRecord) error {
	f.calls = append(f.calls, "audit "+rec.Table)
	f.pending = append(f.pending, func() { f.audit = append(f.audit, rec) })
	return nil
}

func (f *fakeSession) Commit(context.Context) error {
	f.commits++
	f.calls = append(f.calls, "commit")
	if f.failCommit != nil {
		return f.failCommit
	}
	for _, p := range f.pending {
		p()
	}
	f.pending = nil
	return nil
}

func (f *fakeSession) Close() error {
	f.calls = append(f.calls, "close")
	f.pending = nil
	f.closed = true
	return nil
}

// lockingSession adds storage.TableLocker.
type lockingSession struct {
	*fakeSession
	lockErr error
}

func (l *lockingSession) LockTable(_ context.Context, table string) error {
	l.calls = append(l.calls, "lock "+table)
	if l.lockErr != nil {
		return l.lockErr
	}
	l.locked = append(l.locked, table)
	return nil
}

// fakeStore hands out one shared fakeSession so committed state survives
// across ingestions.
type fakeStore struct {
	sess       storage.Session
	sessionErr error
	sessions   int
}

func (s *fakeStore) Session(context.Context) (storage.Session, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	s.sessions++
	return s.sess, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.sessionErr }
func (s *fakeStore) Migrate(context.Context) error {
	return errors.New("not supported")
}
func (s *fakeStore) RecentIngestions(context.Context, int) ([]storage.IngestionRecord, error) {
	return nil, nil
}
func (s *fakeStore) Close() {}
