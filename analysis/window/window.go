// Package window selects the slice of a product table an analysis runs over.
package window

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

// Mode selects how a table is windowed.
type Mode string

const (
	ModeLast30    Mode = "last_30"
	ModeLast90    Mode = "last_90"
	ModeAll       Mode = "all"
	ModeDateRange Mode = "date_range"
)

// WarnIncompleteRange is returned when a date range lacks a bound.
const WarnIncompleteRange = "date range needs both a start and an end date; showing all data"

// ParseMode accepts the canonical names and a few aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last_30", "last30", "recent_30":
		return ModeLast30, nil
	case "last_90", "last90", "recent_90":
		return ModeLast90, nil
	case "all":
		return ModeAll, nil
	case "date_range", "range":
		return ModeDateRange, nil
	default:
		return "", spcerrors.NewInvalidWindowError(fmt.Sprintf("unknown window mode: %q", s))
	}
}

// Selection is the operator's window choice.
type Selection struct {
	Mode  Mode       `json:"mode"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Apply filters the table according to the selection. Warnings are non-fatal.
func Apply(t *record.Table, sel Selection) (*record.Table, []string, error) {
	switch sel.Mode {
	case ModeLast30:
		return LastN(t, 30), nil, nil
	case ModeLast90:
		return LastN(t, 90), nil, nil
	case ModeAll:
		return t.WithRows(t.Rows), nil, nil
	case ModeDateRange:
		if sel.Start == nil || sel.End == nil {
			return t.WithRows(t.Rows), []string{WarnIncompleteRange}, nil
		}
		start, end := record.Day(*sel.Start), record.Day(*sel.End)
		if start.After(end) {
			return nil, nil, spcerrors.NewInvalidWindowError(
				fmt.Sprintf("start %s is after end %s", start.Format("2006-01-02"), end.Format("2006-01-02")))
		}
		return DateRange(t, start, end), nil, nil
	default:
		return nil, nil, spcerrors.NewInvalidWindowError(fmt.Sprintf("unknown window mode: %q", sel.Mode))
	}
}

// LastN keeps, per item, the n most recent measurements. Items are kept in
// first-appearance order; each item's rows come out newest first.
func LastN(t *record.Table, n int) *record.Table {
	byItem := make(map[string][]record.Measurement)
	for _, m := range t.Rows {
		byItem[m.Item] = append(byItem[m.Item], m)
	}

	rows := make([]record.Measurement, 0, len(t.Rows))
	for _, item := range t.Items() {
		series := byItem[item]
		sort.SliceStable(series, func(i, j int) bool { return series[i].Date.After(series[j].Date) })
		if len(series) > n {
			series = series[:n]
		}
		rows = append(rows, series...)
	}
	return t.WithRows(rows)
}

// DateRange keeps measurements whose calendar date lies in [start, end].
func DateRange(t *record.Table, start, end time.Time) *record.Table {
	start, end = record.Day(start), record.Day(end)
	rows := make([]record.Measurement, 0, len(t.Rows))
	for _, m := range t.Rows {
		d := record.Day(m.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		rows = append(rows, m)
	}
	return t.WithRows(rows)
}
