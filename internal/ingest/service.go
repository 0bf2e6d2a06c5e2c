// Package ingest persists a parsed dataset into a relational table, creating
// the table or adding the columns it lacks before inserting the rows.
//
// One ingestion is: validate names, acquire a session, optionally lock the
// table, Reconcile, InsertRows, optionally write the audit record, commit,
// release the session. The session is released on every exit path and
// anything not yet committed is discarded with it.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ingest/internal/dataset"
	"ingest/internal/metrics"
	"ingest/internal/storage"
)

// Mode selects how uploads are mapped to tables.
type Mode string

const (
	// ModePerFile sends each uploaded file to a table derived from its name
	// and JSON bodies to Options.JSONTable.
	ModePerFile Mode = "per_file"

	// ModeShared sends every upload and JSON body to Options.SharedTable.
	ModeShared Mode = "shared"
)

// ParseMode accepts "per_file" (also "per-file") and "shared".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModePerFile), "per-file":
		return ModePerFile, nil
	case string(ModeShared):
		return ModeShared, nil
	default:
		return "", fmt.Errorf("unknown ingest mode %q (want per_file or shared)", s)
	}
}

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Options configures a Service.
type Options struct {
	Mode        Mode
	TablePrefix string // prefix for derived table names; default "table_"
	JSONTable   string // per_file mode target for JSON bodies; default "data_table"
	SharedTable string // shared mode target; default "data_table"

	// LockTables serializes schema work per table on backends that
	// implement storage.TableLocker.
	LockTables bool

	// AuditLog writes an ingest_log record in the same transaction as the rows.
	AuditLog bool

	Logger *slog.Logger
}

// Outcome is the result of one ingestion.
type Outcome struct {
	Table        string   `json:"table"`
	Source       string   `json:"source,omitempty"`
	Status       string   `json:"status"`
	Action       Action   `json:"action,omitempty"`
	AddedColumns []string `json:"added_columns,omitempty"`
	Rows         int      `json:"rows"`
	State        State    `json:"state"`
}

// Service runs ingestions against a Store.
type Service struct {
	store storage.Store
	opts  Options
	log   *slog.Logger
}

// NewService applies defaults and validates the configured table names.
func NewService(store storage.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	if opts.TablePrefix == "" {
		opts.TablePrefix = "table_"
	}
	if opts.JSONTable == "" {
		opts.JSONTable = "data_table"
	}
	if opts.SharedTable == "" {
		opts.SharedTable = "data_table"
	}
	for _, t := range []string{opts.JSONTable, opts.SharedTable} {
		if err := storage.ValidateTableName(t); err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, opts: opts, log: log}, nil
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

// TableForFile returns the destination table for an uploaded file.
func (s *Service) TableForFile(filename string) (string, error) {
	if s.opts.Mode == ModeShared {
		return s.opts.SharedTable, nil
	}
	name, err := dataset.DeriveTableName(s.opts.TablePrefix, filename)
	if err != nil {
		return "", &ValidationError{Msg: "cannot derive table name", Cause: err}
	}
	return name, nil
}

// TableForJSON returns the destination table for a JSON request body.
func (s *Service) TableForJSON() string {
	if s.opts.Mode == ModeShared {
		return s.opts.SharedTable
	}
	return s.opts.JSONTable
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return &ConnectionError{Cause: err}
	}
	return nil
}

// RecentIngestions lists audit records, newest first.
func (s *Service) RecentIngestions(ctx context.Context, limit int) ([]storage.IngestionRecord, error) {
	return s.store.RecentIngestions(ctx, limit)
}

// Ingest reconciles table against ds.Columns and inserts ds.Rows.
//
// Errors are typed: *ValidationError before any store access,
// *ConnectionError when no session could be acquired, *SchemaError from
// reconciliation and *InsertError from the insert phase. The returned
// Outcome carries the final State in every case.
func (s *Service) Ingest(ctx context.Context, table string, ds *dataset.Dataset) (out Outcome, err error) {
	start := time.Now()
	out = Outcome{Table: table, Status: StatusError, State: StateIdle}
	if ds != nil {
		out.Source = ds.Source
	}
	log := s.log.With("table", table, "source", out.Source)

	defer func() {
		if err != nil {
			out.State = StateAborted
			log.Error("ingest failed", "kind", KindOf(err), "state", out.State.String(), "error", err, "duration", durMS(start))
		} else {
			log.Info("ingest complete", "action", out.Action, "added_columns", out.AddedColumns, "rows", out.Rows, "state", out.State.String(), "duration", durMS(start))
		}
		record(out, err, start)
	}()

	if err := s.validate(table, ds); err != nil {
		return out, err
	}

	sess, err := s.store.Session(ctx)
	if err != nil {
		return out, &ConnectionError{Cause: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("session close", "error", cerr)
		}
	}()

	if s.opts.LockTables {
		if locker, ok := sess.(storage.TableLocker); ok {
			if err := locker.LockTable(ctx, table); err != nil {
				return out, &SchemaError{Table: table, Cause: fmt.Errorf("lock table: %w", err)}
			}
		} else {
			log.Debug("table locking not supported by store; continuing unlocked")
		}
	}

	stage := time.Now()
	res, err := Reconcile(ctx, sess, table, ds.Columns)
	metrics.ObserveDuration(metrics.DurationSeconds, stage, metrics.Labels{"stage": "reconcile", "status": statusOf(err)})
	if err != nil {
		return out, err
	}
	s.transition(log, &out, StateSchemaChecked)
	out.Action = res.Action
	out.AddedColumns = res.AddedColumns
	s.transition(log, &out, stateFor(res.Action))
	log.Debug("stage=reconcile ok", "action", res.Action, "added_columns", res.AddedColumns, "duration", durMS(stage))

	stage = time.Now()
	s.transition(log, &out, StateRowsInserting)
	n, err := executeRows(ctx, sess, table, ds.Columns, ds.Rows)
	if err == nil && s.opts.AuditLog {
		err = sess.RecordIngestion(ctx, storage.IngestionRecord{
			Table:        table,
			Source:       out.Source,
			Action:       string(res.Action),
			Rows:         int64(n),
			AddedColumns: strings.Join(res.AddedColumns, ","),
		})
		if err != nil {
			err = fmt.Errorf("record ingestion: %w", err)
		}
	}
	if err == nil {
		if cerr := sess.Commit(ctx); cerr != nil {
			err = &InsertError{Table: table, Row: -1, Cause: cerr}
		}
	}
	metrics.ObserveDuration(metrics.DurationSeconds, stage, metrics.Labels{"stage": "insert", "status": statusOf(err)})
	if err != nil {
		return out, err
	}
	log.Debug("stage=insert ok", "rows", n, "duration", durMS(stage))

	out.Rows = n
	out.Status = StatusSuccess
	s.transition(log, &out, StateCommitted)
	return out, nil
}

func (s *Service) transition(log *slog.Logger, out *Outcome, next State) {
	log.Debug("state", "from", out.State.String(), "to", next.String())
	out.State = next
}

func (s *Service) validate(table string, ds *dataset.Dataset) error {
	if err := storage.ValidateTableName(table); err != nil {
		return &ValidationError{Msg: "invalid table name", Cause: err}
	}
	if ds == nil {
		return Validationf("no dataset")
	}
	if err := ds.Validate(); err != nil {
		return &ValidationError{Msg: "invalid dataset", Cause: err}
	}
	for _, c := range ds.Columns {
		if err := storage.ValidateColumnName(c); err != nil {
			return &ValidationError{Msg: "invalid column name", Cause: err}
		}
	}
	return nil
}

func record(out Outcome, err error, start time.Time) {
	status := statusOf(err)
	metrics.IncCounter(metrics.RequestsTotal, 1, metrics.Labels{"status": status, "kind": string(KindOf(err))})
	metrics.ObserveDuration(metrics.DurationSeconds, start, metrics.Labels{"stage": "ingest", "status": status})
	if err != nil {
		return
	}
	metrics.IncCounter(metrics.RowsTotal, float64(out.Rows), metrics.Labels{"table": out.Table})
	if out.Action != ActionNoChange {
		metrics.IncCounter(metrics.SchemaChangesTotal, 1, metrics.Labels{"action": string(out.Action)})
	}
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
