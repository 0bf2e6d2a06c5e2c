// Package htmltable loads the first HTML <table> of a document into a
// dataset, for spreadsheets exported as HTML.
package htmltable

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ingest/internal/dataset"
)

// Options tunes the loader.
type Options struct {
	// Selector picks the table; the first match is used. Default "table".
	Selector string
}

// Parse reads the selected table. The header is the first row of <thead>
// when present, otherwise the table's first row. Rows of nested tables are
// ignored, as are rows with only empty cells.
func Parse(ctx context.Context, r io.Reader, source string, opt Options) (*dataset.Dataset, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmltable: parse html: %w", err)
	}

	sel := opt.Selector
	if sel == "" {
		sel = "table"
	}
	tbl := doc.Find(sel).First()
	if tbl.Length() == 0 {
		return nil, fmt.Errorf("htmltable: %s: no element matches %q", source, sel)
	}

	rows := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(tbl)
	})

	header := rows.First()
	if head := rows.Filter("thead tr"); head.Length() > 0 {
		header = head.First()
	}
	if header.Length() == 0 {
		return nil, fmt.Errorf("htmltable: %s: table has no rows", source)
	}

	ds := dataset.New(source, dataset.NormalizeColumns(cellTexts(header)))

	var ctxErr error
	rows.Not("thead tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		if tr.IsSelection(header) {
			return true
		}
		cells := cellTexts(tr)
		row := make(dataset.Row, len(ds.Columns))
		empty := true
		for i, col := range ds.Columns {
			if i >= len(cells) {
				break
			}
			if cells[i] != "" {
				empty = false
			}
			row[col] = cells[i]
		}
		if !empty {
			ds.Append(row)
		}
		return true
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	return ds, nil
}

// cellTexts returns the whitespace-collapsed text of each th/td in tr.
func cellTexts(tr *goquery.Selection) []string {
	var out []string
	tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
		out = append(out, strings.Join(strings.Fields(cell.Text()), " "))
	})
	return out
}
