// Package sheet turns a CSV or XLSX sheet into RawRecords keyed by
// canonical field name.
package sheet

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/b2b-sync/internal/fetcher"
	"github.com/sells-group/b2b-sync/internal/model"
)

// Options controls how a sheet is read.
type Options struct {
	// SheetName selects an XLSX worksheet. Empty means the first one.
	SheetName string
	// HeaderRow is the 1-based row holding column labels. Zero means 1.
	HeaderRow int
	// Columns maps canonical field names to header labels, taking
	// precedence over the built-in aliases.
	Columns map[string]string
	// Localizer fetches remote refs. Nil uses fetcher.NewRouter().
	Localizer Localizer
}

// Localizer makes a sheet ref available on local disk.
type Localizer interface {
	Localize(ctx context.Context, ref string) (string, func(), error)
}

// Load reads the sheet at ref and maps each data row to a RawRecord.
// Rows with no non-blank cell are skipped.
func Load(ctx context.Context, ref string, opts Options) ([]model.RawRecord, error) {
	loc := opts.Localizer
	if loc == nil {
		loc = fetcher.NewRouter()
	}
	path, cleanup, err := loc.Localize(ctx, ref)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: localize")
	}
	defer cleanup()

	rows, err := readRows(ctx, path, opts.SheetName)
	if err != nil {
		return nil, err
	}

	records, err := Map(rows, opts.HeaderRow, opts.Columns)
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: %s", filepath.Base(path))
	}

	zap.L().Info("sheet: loaded",
		zap.String("file", filepath.Base(path)),
		zap.Int("rows", len(records)),
	)
	return records, nil
}

func readRows(ctx context.Context, path, sheetName string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheetName})
	case ".csv", ".tsv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "sheet: open csv")
		}
		defer f.Close() //nolint:errcheck
		return fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{LazyQuotes: true})
	default:
		return nil, eris.Errorf("sheet: unsupported file type %q", filepath.Ext(path))
	}
}

// Map converts raw rows to RawRecords using the header at headerRow.
// Line numbers are 1-based positions in rows.
func Map(rows [][]string, headerRow int, overrides map[string]string) ([]model.RawRecord, error) {
	if headerRow <= 0 {
		headerRow = 1
	}
	if len(rows) < headerRow {
		return nil, eris.Errorf("header row %d not found (sheet has %d rows)", headerRow, len(rows))
	}

	columns, err := mapHeader(rows[headerRow-1], overrides)
	if err != nil {
		return nil, err
	}

	var records []model.RawRecord
	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		fields := make(map[string]string, len(columns))
		for idx, field := range columns {
			if idx < len(row) {
				fields[field] = row[idx]
			} else {
				fields[field] = ""
			}
		}
		records = append(records, model.RawRecord{Line: i + 1, Fields: fields})
	}
	return records, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
