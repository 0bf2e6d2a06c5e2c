// Package parser turns an uploaded file or request body into a
// *dataset.Dataset, choosing the loader from the file extension.
package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"ingest/internal/dataset"
	"ingest/internal/parser/csv"
	"ingest/internal/parser/htmltable"
	"ingest/internal/parser/json"
	"ingest/internal/parser/xlsx"
)

// Options carries per-format settings.
type Options struct {
	CSV  csv.Options
	JSON json.Options
	XLSX xlsx.Options
	HTML htmltable.Options
}

// Format identifies a loader.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// UnsupportedFormatError is returned for file names no loader handles.
type UnsupportedFormatError struct {
	Filename string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type %q (want .xlsx, .xlsm, .csv, .tsv, .json, .html or .htm)", e.Filename)
}

// FormatOf maps a file name to its loader by extension.
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".json":
		return FormatJSON, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", &UnsupportedFormatError{Filename: filename}
	}
}

// Load parses r according to filename's extension. A name without an
// extension falls back to Sniff on the first bytes. The dataset's Source is
// filename.
func Load(ctx context.Context, filename string, r io.Reader, opt Options) (*dataset.Dataset, error) {
	f, err := FormatOf(filename)
	if err == nil {
		return LoadFormat(ctx, f, filename, r, opt)
	}
	if filepath.Ext(filename) != "" {
		return nil, err
	}

	br := bufio.NewReaderSize(r, sniffLen)
	sample, perr := br.Peek(sniffLen)
	if perr != nil && !errors.Is(perr, io.EOF) && !errors.Is(perr, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("parser: read %s: %w", filename, perr)
	}
	sniffed, ok := Sniff(sample)
	if !ok {
		return nil, err
	}
	return LoadFormat(ctx, sniffed, filename, br, opt)
}

// LoadFormat parses r with the named loader.
func LoadFormat(ctx context.Context, f Format, source string, r io.Reader, opt Options) (*dataset.Dataset, error) {
	switch f {
	case FormatXLSX:
		return xlsx.Parse(ctx, r, source, opt.XLSX)
	case FormatCSV:
		return csv.Parse(ctx, r, source, opt.CSV)
	case FormatTSV:
		o := opt.CSV
		o.Comma = '\t'
		return csv.Parse(ctx, r, source, o)
	case FormatJSON:
		return json.Parse(ctx, r, source, opt.JSON)
	case FormatHTML:
		return htmltable.Parse(ctx, r, source, opt.HTML)
	default:
		return nil, &UnsupportedFormatError{Filename: source}
	}
}
