// Package record defines the measurement schema shared by every analysis stage.
// A Table is one product's measurements; ItemSeries are derived from it on demand.
package record

import (
	"sort"
	"time"

	spcerrors "composition-spc/pkg/errors"
)

// Column names a field of the measurement schema.
type Column string

const (
	ColumnDate       Column = "date"
	ColumnItem       Column = "item"
	ColumnActual     Column = "actual"
	ColumnMix        Column = "mix"
	ColumnUpperLimit Column = "upper_limit"
	ColumnLowerLimit Column = "lower_limit"
)

// RequiredColumns must be present in every table handed to the analysis.
var RequiredColumns = []Column{ColumnDate, ColumnItem, ColumnActual, ColumnMix}

// AllColumns is the full schema in canonical order.
var AllColumns = []Column{ColumnDate, ColumnItem, ColumnActual, ColumnMix, ColumnUpperLimit, ColumnLowerLimit}

// Measurement is one row: target (mix) vs. measured (actual) value of an item on a date.
type Measurement struct {
	Date       time.Time `json:"date"`
	Item       string    `json:"item"`
	Actual     float64   `json:"actual"`
	Mix        float64   `json:"mix"`
	UpperLimit *float64  `json:"upper_limit,omitempty"`
	LowerLimit *float64  `json:"lower_limit,omitempty"`
}

// Deviation is actual minus mix.
func (m Measurement) Deviation() float64 {
	return m.Actual - m.Mix
}

// HasSpec reports whether both specification limits are present.
func (m Measurement) HasSpec() bool {
	return m.UpperLimit != nil && m.LowerLimit != nil
}

// Table is the full measurement set of one product.
type Table struct {
	Product string        `json:"product"`
	Columns []Column      `json:"columns"`
	Rows    []Measurement `json:"rows"`
}

// NewTable builds a table carrying the full schema.
func NewTable(product string, rows []Measurement) *Table {
	cols := make([]Column, len(AllColumns))
	copy(cols, AllColumns)
	return &Table{Product: product, Columns: cols, Rows: rows}
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(c Column) bool {
	for _, col := range t.Columns {
		if col == c {
			return true
		}
	}
	return false
}

// HasSpecColumns reports whether both limit columns are declared.
func (t *Table) HasSpecColumns() bool {
	return t.HasColumn(ColumnUpperLimit) && t.HasColumn(ColumnLowerLimit)
}

// Validate fails fast when a required column is missing.
func (t *Table) Validate() error {
	var missing []string
	for _, c := range RequiredColumns {
		if !t.HasColumn(c) {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return spcerrors.NewMissingColumnError(t.Product, missing)
	}
	return nil
}

// WithRows returns a table with the same product and schema over other rows.
func (t *Table) WithRows(rows []Measurement) *Table {
	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	return &Table{Product: t.Product, Columns: cols, Rows: rows}
}

// Items returns distinct item labels in first-appearance order.
func (t *Table) Items() []string {
	seen := make(map[string]struct{})
	var items []string
	for _, m := range t.Rows {
		if _, ok := seen[m.Item]; ok {
			continue
		}
		seen[m.Item] = struct{}{}
		items = append(items, m.Item)
	}
	return items
}

// FilterItems keeps only the selected items. An empty selection keeps everything.
func (t *Table) FilterItems(items []string) *Table {
	if len(items) == 0 {
		return t.WithRows(t.Rows)
	}
	keep := make(map[string]struct{}, len(items))
	for _, it := range items {
		keep[it] = struct{}{}
	}
	rows := make([]Measurement, 0, len(t.Rows))
	for _, m := range t.Rows {
		if _, ok := keep[m.Item]; ok {
			rows = append(rows, m)
		}
	}
	return t.WithRows(rows)
}

// Series returns the item's measurements ordered by date ascending.
func (t *Table) Series(item string) ItemSeries {
	var rows []Measurement
	for _, m := range t.Rows {
		if m.Item == item {
			rows = append(rows, m)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return ItemSeries{Item: item, Points: rows}
}

// GroupByItem splits the table into one series per item, in item order.
func (t *Table) GroupByItem() []ItemSeries {
	items := t.Items()
	out := make([]ItemSeries, 0, len(items))
	for _, it := range items {
		out = append(out, t.Series(it))
	}
	return out
}

// DateRange returns the earliest and latest date in the table.
func (t *Table) DateRange() (min, max time.Time, ok bool) {
	for i, m := range t.Rows {
		if i == 0 || m.Date.Before(min) {
			min = m.Date
		}
		if i == 0 || m.Date.After(max) {
			max = m.Date
		}
	}
	return min, max, len(t.Rows) > 0
}

// ItemSeries is every measurement of one item, ordered by date.
type ItemSeries struct {
	Item   string
	Points []Measurement
}

// Len returns the number of measurements.
func (s ItemSeries) Len() int { return len(s.Points) }

func (s ItemSeries) Actuals() []float64 {
	out := make([]float64, len(s.Points))
	for i, m := range s.Points {
		out[i] = m.Actual
	}
	return out
}

func (s ItemSeries) Mixes() []float64 {
	out := make([]float64, len(s.Points))
	for i, m := range s.Points {
		out[i] = m.Mix
	}
	return out
}

func (s ItemSeries) Deviations() []float64 {
	out := make([]float64, len(s.Points))
	for i, m := range s.Points {
		out[i] = m.Deviation()
	}
	return out
}

// UpperLimits returns the present upper limit values.
func (s ItemSeries) UpperLimits() []float64 {
	var out []float64
	for _, m := range s.Points {
		if m.UpperLimit != nil {
			out = append(out, *m.UpperLimit)
		}
	}
	return out
}

// LowerLimits returns the present lower limit values.
func (s ItemSeries) LowerLimits() []float64 {
	var out []float64
	for _, m := range s.Points {
		if m.LowerLimit != nil {
			out = append(out, *m.LowerLimit)
		}
	}
	return out
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// Float returns a pointer to v, for optional limits.
func Float(v float64) *float64 {
	return &v
}
