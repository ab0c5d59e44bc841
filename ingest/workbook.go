package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

// Workbook holds one measurement table per product. It is read-only after
// parsing and safe for concurrent use.
type Workbook struct {
	tables map[string]*record.Table
	order  []string
	stats  map[string]SheetStats
	// errs holds sheets that could not become a table, by product.
	errs map[string]error
}

func newWorkbook() *Workbook {
	return &Workbook{
		tables: make(map[string]*record.Table),
		stats:  make(map[string]SheetStats),
		errs:   make(map[string]error),
	}
}

// ParseWorkbook reads an xlsx workbook. Every non-empty sheet is a product;
// its first row is the header.
func ParseWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, spcerrors.NewParseError("workbook", fmt.Sprintf("failed to open workbook: %v", err))
	}
	defer f.Close()

	wb := newWorkbook()
	for _, sheet := range f.GetSheetList() {
		// Raw values keep dates as serial numbers instead of display strings.
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, spcerrors.NewParseError(sheet, fmt.Sprintf("failed to read sheet: %v", err))
		}
		if len(rows) == 0 {
			continue
		}
		wb.add(strings.TrimSpace(sheet), rows)
	}

	if len(wb.order) == 0 {
		return nil, spcerrors.NewParseError("workbook", "workbook has no sheets with data")
	}
	return wb, nil
}

// ParseWorkbookBytes is ParseWorkbook over an in-memory file.
func ParseWorkbookBytes(b []byte) (*Workbook, error) {
	return ParseWorkbook(bytes.NewReader(b))
}

// ParseCSV reads a single product table from comma-separated text.
func ParseCSV(product string, r io.Reader) (*record.Table, SheetStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, SheetStats{}, spcerrors.NewParseError(product, fmt.Sprintf("failed to read csv: %v", err))
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return buildTable(product, rows)
}

// FromTables wraps already built tables, e.g. several CSV files.
func FromTables(tables ...*record.Table) *Workbook {
	wb := newWorkbook()
	for _, t := range tables {
		if _, ok := wb.tables[t.Product]; !ok {
			wb.order = append(wb.order, t.Product)
		}
		wb.tables[t.Product] = t
		wb.stats[t.Product] = SheetStats{Rows: len(t.Rows), Kept: len(t.Rows)}
	}
	return wb
}

func (wb *Workbook) add(product string, rows [][]string) {
	t, stats, err := buildTable(product, rows)
	wb.order = append(wb.order, product)
	wb.stats[product] = stats
	if err != nil {
		wb.errs[product] = err
		log.Warn().Str("product", product).Err(err).Msg("Sheet skipped")
		return
	}
	wb.tables[product] = t
	if dropped := stats.BadDate + stats.BadValue; dropped > 0 {
		log.Warn().
			Str("product", product).
			Int("bad_date", stats.BadDate).
			Int("bad_value", stats.BadValue).
			Msg("Rows dropped while parsing sheet")
	}
}

// Products lists products in sheet order.
func (wb *Workbook) Products(ctx context.Context) ([]string, error) {
	out := make([]string, len(wb.order))
	copy(out, wb.order)
	return out, nil
}

// LoadTable returns the product's table. A sheet that failed validation
// reports its original error.
func (wb *Workbook) LoadTable(ctx context.Context, product string) (*record.Table, error) {
	if err, ok := wb.errs[product]; ok {
		return nil, err
	}
	t, ok := wb.tables[product]
	if !ok {
		return nil, spcerrors.NewUnknownProductError(product)
	}
	return t, nil
}

// Tables returns the valid tables in product order.
func (wb *Workbook) Tables() []*record.Table {
	out := make([]*record.Table, 0, len(wb.tables))
	for _, p := range wb.order {
		if t, ok := wb.tables[p]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Stats returns the parse counters of a product's sheet.
func (wb *Workbook) Stats(product string) (SheetStats, bool) {
	s, ok := wb.stats[product]
	return s, ok
}

// Invalid lists products whose sheets were skipped, sorted.
func (wb *Workbook) Invalid() []string {
	out := make([]string, 0, len(wb.errs))
	for p := range wb.errs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// LogSummary writes one line per product.
func (wb *Workbook) LogSummary(logger zerolog.Logger) {
	for _, p := range wb.order {
		s := wb.stats[p]
		if err, bad := wb.errs[p]; bad {
			logger.Warn().Str("product", p).Err(err).Msg("Sheet skipped")
			continue
		}
		logger.Info().Str("product", p).Int("rows", s.Rows).Int("kept", s.Kept).Msg("Sheet loaded")
	}
}
