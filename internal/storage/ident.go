package storage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Reserved column names every ingest table carries.
const (
	IDColumn        = "id"
	CreatedAtColumn = "created_at"

	// AuditTable is the migration-managed ingest log.
	AuditTable = "ingest_log"
)

// ErrInvalidIdentifier wraps every identifier rejection.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedWords are SQL keywords rejected as identifiers. The list is the
// union of the words that break unquoted DDL on the supported backends;
// identifiers are also quoted, so this is a second line of defense.
var reservedWords = map[string]bool{
	"all": true, "alter": true, "and": true, "any": true, "as": true, "asc": true,
	"between": true, "by": true, "case": true, "check": true, "column": true,
	"constraint": true, "create": true, "cross": true, "current_date": true,
	"current_time": true, "current_timestamp": true, "current_user": true,
	"default": true, "delete": true, "desc": true, "distinct": true, "drop": true,
	"else": true, "end": true, "exists": true, "false": true, "for": true,
	"foreign": true, "from": true, "full": true, "grant": true, "group": true,
	"having": true, "in": true, "index": true, "inner": true, "insert": true,
	"into": true, "is": true, "join": true, "key": true, "left": true, "like": true,
	"limit": true, "not": true, "null": true, "offset": true, "on": true, "or": true,
	"order": true, "outer": true, "primary": true, "references": true, "right": true,
	"select": true, "session_user": true, "set": true, "table": true, "then": true,
	"to": true, "true": true, "union": true, "unique": true, "update": true,
	"user": true, "using": true, "values": true, "when": true, "where": true,
	"with": true,
}

// IsReservedWord reports whether name is a rejected SQL keyword.
func IsReservedWord(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

// ValidateIdentifier checks a table or column name against the allow-list:
// lowercase letters, digits and underscore, not starting with a digit, at
// most 63 bytes, not a reserved word.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	case len(name) > 63:
		return fmt.Errorf("%w: %q is longer than 63 bytes", ErrInvalidIdentifier, name)
	case !identRe.MatchString(name):
		return fmt.Errorf("%w: %q must match %s", ErrInvalidIdentifier, name, identRe.String())
	case IsReservedWord(name):
		return fmt.Errorf("%w: %q is a reserved word", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateTableName is ValidateIdentifier plus the names this system owns.
func ValidateTableName(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if name == AuditTable || strings.HasPrefix(name, "goose_") {
		return fmt.Errorf("%w: %q is reserved for internal use", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateColumnName is ValidateIdentifier plus the reserved id/created_at.
func ValidateColumnName(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if IsReservedColumn(name) {
		return fmt.Errorf("%w: %q is managed by the store", ErrInvalidIdentifier, name)
	}
	return nil
}

// IsReservedColumn reports whether name is id or created_at (case-insensitive).
func IsReservedColumn(name string) bool {
	n := strings.ToLower(name)
	return n == IDColumn || n == CreatedAtColumn
}

// DataColumns drops the reserved columns from a metadata column listing.
func DataColumns(all []string) []string {
	out := make([]string, 0, len(all))
	for _, c := range all {
		if IsReservedColumn(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
