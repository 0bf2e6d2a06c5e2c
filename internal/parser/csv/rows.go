// Package csv loads comma- or tab-separated uploads into a dataset.
package csv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"ingest/internal/dataset"
)

// Options tunes the reader.
type Options struct {
	// Comma is the field separator; zero means detect it from the header
	// line among ',', ';', tab and '|', falling back to ','.
	Comma rune

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool

	// KeepSpace disables trimming of surrounding whitespace in values.
	KeepSpace bool
}

// Parse reads r until EOF. The first record is the header; it is
// normalized with dataset.NormalizeColumns. Records shorter than the header
// leave the trailing columns unset and extra fields are ignored. Records
// whose fields are all empty are skipped.
func Parse(ctx context.Context, r io.Reader, source string, opt Options) (*dataset.Dataset, error) {
	comma := opt.Comma
	if comma == 0 {
		br := bufio.NewReader(r)
		head, _ := br.Peek(4096)
		comma = DetectComma(head)
		r = br
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv: %s: empty input", source)
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	if len(hdr) > 0 {
		hdr[0] = strings.TrimPrefix(hdr[0], "\ufeff")
	}
	ds := dataset.New(source, dataset.NormalizeColumns(hdr))

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ds, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		row := make(dataset.Row, len(ds.Columns))
		empty := true
		for i, col := range ds.Columns {
			if i >= len(rec) {
				break
			}
			v := rec[i]
			if !opt.KeepSpace {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				empty = false
			}
			row[col] = v
		}
		if empty {
			continue
		}
		ds.Append(row)
	}
}

var candidateCommas = []rune{',', ';', '\t', '|'}

// DetectComma picks the separator that occurs most often outside quotes on
// the first line of sample. Ties go to the earlier candidate.
func DetectComma(sample []byte) rune {
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}
	counts := make(map[rune]int, len(candidateCommas))
	quoted := false
	for _, c := range string(sample) {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[c]++
		}
	}
	best := ','
	for _, c := range candidateCommas {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}
