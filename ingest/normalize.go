// Package ingest turns operator workbooks (xlsx or csv) into measurement
// tables. Headers may be English or the plant's Korean labels.
package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"composition-spc/analysis/record"
)

// headerAliases maps a normalised header cell to a schema column.
var headerAliases = map[string]record.Column{
	"date":        record.ColumnDate,
	"날짜":          record.ColumnDate,
	"일자":          record.ColumnDate,
	"item":        record.ColumnItem,
	"항목":          record.ColumnItem,
	"성분":          record.ColumnItem,
	"actual":      record.ColumnActual,
	"실측":          record.ColumnActual,
	"실측값":         record.ColumnActual,
	"mix":         record.ColumnMix,
	"target":      record.ColumnMix,
	"배합":          record.ColumnMix,
	"배합값":         record.ColumnMix,
	"upper_limit": record.ColumnUpperLimit,
	"upper":       record.ColumnUpperLimit,
	"usl":         record.ColumnUpperLimit,
	"상한선":         record.ColumnUpperLimit,
	"상한":          record.ColumnUpperLimit,
	"lower_limit": record.ColumnLowerLimit,
	"lower":       record.ColumnLowerLimit,
	"lsl":         record.ColumnLowerLimit,
	"하한선":         record.ColumnLowerLimit,
	"하한":          record.ColumnLowerLimit,
}

// ResolveHeader maps a header cell to a column.
func ResolveHeader(cell string) (record.Column, bool) {
	key := strings.ToLower(strings.TrimSpace(cell))
	key = strings.ReplaceAll(key, " ", "_")
	c, ok := headerAliases[key]
	return c, ok
}

// ParseNumber reads a numeric cell, accepting thousands separators.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("number out of range %q", s)
	}
	return f, nil
}

// parseOptional returns nil for blank or unreadable limit cells.
func parseOptional(s string) *float64 {
	f, err := ParseNumber(s)
	if err != nil {
		return nil
	}
	return &f
}

// excelEpoch is day zero of the spreadsheet date system (1900, with the
// leap-year bug folded in).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxExcelSerial is 9999-12-31.
const maxExcelSerial = 2958465

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	time.RFC3339,
	"20060102",
	"2006. 1. 2",
	"2006-1-2",
	"2006/1/2",
}

// ParseDate reads a date cell, either a spreadsheet serial number or one of
// the accepted layouts. The result is truncated to the calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if serial, err := decimal.NewFromString(s); err == nil {
		f, _ := serial.Float64()
		if f >= 1 && f <= maxExcelSerial {
			days := math.Floor(f)
			return excelEpoch.AddDate(0, 0, int(days)), nil
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return record.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// SheetStats counts what happened to the rows of one sheet.
type SheetStats struct {
	Rows     int `json:"rows"`
	Kept     int `json:"kept"`
	BadDate  int `json:"bad_date"`
	BadValue int `json:"bad_value"`
	Blank    int `json:"blank"`
}

// buildTable converts raw rows (header first) into a product table. A
// missing required column fails the whole sheet; bad rows are dropped and counted.
func buildTable(product string, raw [][]string) (*record.Table, SheetStats, error) {
	var stats SheetStats
	var header []string
	if len(raw) > 0 {
		header, raw = raw[0], raw[1:]
	}

	index := make(map[record.Column]int)
	var cols []record.Column
	for i, cell := range header {
		c, ok := ResolveHeader(cell)
		if !ok {
			continue
		}
		if _, dup := index[c]; dup {
			continue
		}
		index[c] = i
		cols = append(cols, c)
	}

	t := &record.Table{Product: product, Columns: cols}
	if err := t.Validate(); err != nil {
		return t, stats, err
	}

	cell := func(row []string, c record.Column) string {
		i, ok := index[c]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	for _, row := range raw {
		if isBlank(row) {
			stats.Blank++
			continue
		}
		stats.Rows++

		date, err := ParseDate(cell(row, record.ColumnDate))
		if err != nil {
			stats.BadDate++
			continue
		}
		item := strings.TrimSpace(cell(row, record.ColumnItem))
		actual, errA := ParseNumber(cell(row, record.ColumnActual))
		mix, errM := ParseNumber(cell(row, record.ColumnMix))
		if item == "" || errA != nil || errM != nil {
			stats.BadValue++
			continue
		}

		t.Rows = append(t.Rows, record.Measurement{
			Date:       date,
			Item:       item,
			Actual:     actual,
			Mix:        mix,
			UpperLimit: parseOptional(cell(row, record.ColumnUpperLimit)),
			LowerLimit: parseOptional(cell(row, record.ColumnLowerLimit)),
		})
		stats.Kept++
	}
	return t, stats, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
