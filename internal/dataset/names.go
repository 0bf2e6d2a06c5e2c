package dataset

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentifierLen is the longest identifier produced by this package.
// It matches Postgres' NAMEDATALEN-1, the tightest limit among the backends.
const MaxIdentifierLen = 63

// KnownExtensions are stripped from upload names before deriving a table name.
var KnownExtensions = []string{".xlsx", ".xlsm", ".xls", ".csv", ".tsv", ".json", ".html", ".htm"}

// ErrEmptyName is returned when a file name has nothing left to derive a
// table name from.
var ErrEmptyName = errors.New("cannot derive table name from empty file name")

// letters that do not decompose under NFD but have an obvious ASCII form.
var foldReplacer = strings.NewReplacer(
	"đ", "d", "Đ", "D",
	"ß", "ss",
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
)

// foldAccents strips combining marks ("Tên khách" -> "Ten khach").
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return foldReplacer.Replace(out)
}

// normalizeIdent lowercases s and collapses every run of characters outside
// [a-z0-9_] into a single underscore. Leading/trailing underscores produced by
// the collapse are trimmed.
func normalizeIdent(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	s = strings.ToLower(foldAccents(s))

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			// '_' lands here too, so separators never double up
			pendingSep = true
		}
	}
	return b.String()
}

// NormalizeColumnName turns a raw header cell into a column identifier.
//
// pos is the zero-based header position and names otherwise-empty headers
// ("column_3"). Names starting with a digit get a leading underscore.
func NormalizeColumnName(raw string, pos int) string {
	s := normalizeIdent(raw)
	if s == "" {
		return fmt.Sprintf("column_%d", pos+1)
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return truncateIdent(s)
}

// NormalizeColumns applies NormalizeColumnName to a header row.
func NormalizeColumns(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = NormalizeColumnName(h, i)
	}
	return out
}

// DeriveTableName maps an upload's file name to a table name:
// directories are dropped, a known extension is stripped, the rest is
// normalized like a column name and prefixed.
//
// The mapping is pure, so the same file name always lands in the same table:
//
//	DeriveTableName("table_", "Sales Report.2024.xlsx") == "table_sales_report_2024"
func DeriveTableName(prefix, filename string) (string, error) {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	lower := strings.ToLower(base)
	for _, ext := range KnownExtensions {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}

	stem := normalizeIdent(base)
	if stem == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyName, filename)
	}
	name := prefix + stem
	if prefix == "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return truncateIdent(name), nil
}

func truncateIdent(s string) string {
	if len(s) <= MaxIdentifierLen {
		return s
	}
	return strings.TrimRight(s[:MaxIdentifierLen], "_")
}
