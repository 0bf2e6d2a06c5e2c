package parser

import (
	"bytes"
	"unicode/utf8"
)

// sniffLen is how much of an upload Sniff needs to see.
const sniffLen = 512

var zipMagic = []byte("PK\x03\x04")

// Sniff guesses a format from the first bytes of content. It is used for
// uploads without an extension and stays conservative: binary content other
// than a zip container is never guessed.
func Sniff(sample []byte) (Format, bool) {
	if bytes.HasPrefix(sample, zipMagic) {
		return FormatXLSX, true
	}
	trim := bytes.TrimSpace(bytes.TrimPrefix(sample, []byte("\ufeff")))
	if len(trim) == 0 {
		return "", false
	}
	switch trim[0] {
	case '{', '[':
		return FormatJSON, true
	case '<':
		if bytes.Contains(bytes.ToLower(trim), []byte("<table")) {
			return FormatHTML, true
		}
		return "", false
	}
	if !utf8.Valid(trimIncompleteRune(trim)) || bytes.IndexByte(trim, 0) >= 0 {
		return "", false
	}
	if bytes.IndexByte(firstLine(trim), '\t') >= 0 {
		return FormatTSV, true
	}
	return FormatCSV, true
}

// trimIncompleteRune drops a multi-byte rune cut off by the sample boundary.
func trimIncompleteRune(b []byte) []byte {
	start := len(b) - 1
	for start > 0 && len(b)-start < utf8.UTFMax && !utf8.RuneStart(b[start]) {
		start--
	}
	if start >= 0 && !utf8.FullRune(b[start:]) {
		return b[:start]
	}
	return b
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}
