package ingest

import "fmt"

// State tracks one ingestion through its lifecycle:
//
//	Idle -> SchemaChecked -> {TableCreated | ColumnsAdded | NoSchemaChange}
//	     -> RowsInserting -> {Committed | Aborted}
//
// Any failure moves the ingestion to Aborted.
type State int

const (
	StateIdle State = iota
	StateSchemaChecked
	StateTableCreated
	StateColumnsAdded
	StateNoSchemaChange
	StateRowsInserting
	StateCommitted
	StateAborted
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateSchemaChecked:  "schema_checked",
	StateTableCreated:   "table_created",
	StateColumnsAdded:   "columns_added",
	StateNoSchemaChange: "no_schema_change",
	StateRowsInserting:  "rows_inserting",
	StateCommitted:      "committed",
	StateAborted:        "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON outcomes.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown ingest state %q", b)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// stateFor maps a reconcile action to the post-reconcile state.
func stateFor(a Action) State {
	switch a {
	case ActionCreated:
		return StateTableCreated
	case ActionColumnsAdded:
		return StateColumnsAdded
	default:
		return StateNoSchemaChange
	}
}
