// Package xlsx loads Excel workbooks (.xlsx, .xlsm) into a dataset.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"ingest/internal/dataset"
)

// Options tunes the loader.
type Options struct {
	// Sheet selects a worksheet by name; empty means the first sheet.
	Sheet string
}

// Parse reads one worksheet. The first row with a non-empty cell is the
// header; rows above it and blank rows below it are skipped. Cells are
// read as displayed text, trimmed.
func Parse(ctx context.Context, r io.Reader, source string, opt Options) (*dataset.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := opt.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("xlsx: workbook has no sheets")
		}
		sheet = sheets[0]
	}

	iter, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx: sheet %q: %w", sheet, err)
	}
	defer func() { _ = iter.Close() }()

	var ds *dataset.Dataset
	for n := 1; iter.Next(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := iter.Columns()
		if err != nil {
			return nil, fmt.Errorf("xlsx: sheet %q row %d: %w", sheet, n, err)
		}
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if blank(cells) {
			continue
		}

		if ds == nil {
			ds = dataset.New(source, dataset.NormalizeColumns(cells))
			continue
		}
		row := make(dataset.Row, len(ds.Columns))
		for i, col := range ds.Columns {
			if i < len(cells) {
				row[col] = cells[i]
			}
		}
		ds.Append(row)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("xlsx: sheet %q: %w", sheet, err)
	}
	if ds == nil {
		return nil, fmt.Errorf("xlsx: sheet %q is empty", sheet)
	}
	return ds, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
