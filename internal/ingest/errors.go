package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies an ingestion failure for callers and the HTTP layer.
type Kind string

const (
	KindConnection Kind = "connection"
	KindSchema     Kind = "schema"
	KindInsert     Kind = "insert"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// ConnectionError means the store could not be reached or a session could
// not be acquired. Nothing was written.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection failed: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// SchemaError means a metadata query, CREATE TABLE or ADD COLUMN failed.
// DDL committed before the failure stays in place.
type SchemaError struct {
	Table string
	Cause error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema reconciliation for table %q failed: %v", e.Table, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// InsertError means a row insert or the final commit failed. Row is the
// zero-based index of the failing row, or -1 when the commit failed.
// No row of the batch is persisted.
type InsertError struct {
	Table string
	Row   int
	Cause error
}

func (e *InsertError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("insert into table %q failed at commit: %v", e.Table, e.Cause)
	}
	return fmt.Sprintf("insert into table %q failed at row %d: %v", e.Table, e.Row, e.Cause)
}

func (e *InsertError) Unwrap() error { return e.Cause }

// ValidationError means the request was rejected before touching the
// store: bad identifiers, duplicate or missing columns, missing JSON keys.
type ValidationError struct {
	Msg   string
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Cause.Error()
	}
	return e.Msg + ": " + e.Cause.Error()
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	var (
		ce *ConnectionError
		se *SchemaError
		ie *InsertError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindConnection
	case errors.As(err, &se):
		return KindSchema
	case errors.As(err, &ie):
		return KindInsert
	default:
		return KindInternal
	}
}
