package report

import (
	"fmt"
	"sort"
	"time"

	"composition-spc/analysis/record"
	"composition-spc/analysis/spc"
)

// AnomalyKind tags a row in the anomaly list.
type AnomalyKind string

const (
	KindOutlier   AnomalyKind = "outlier"
	KindOutOfSpec AnomalyKind = "out_of_spec"
)

// NoteOutOfSpec is attached to rows flagged only by their specification limits.
const NoteOutOfSpec = "specification deviation"

// Anomaly is one flagged measurement. A row appears at most once: the
// outlier tag wins over the out-of-spec tag.
type Anomaly struct {
	Kind          AnomalyKind `json:"kind"`
	Item          string      `json:"item"`
	Date          time.Time   `json:"date"`
	Actual        float64     `json:"actual"`
	Mix           float64     `json:"mix"`
	Deviation     float64     `json:"deviation"`
	Mean          float64     `json:"mean"`
	StdDev        float64     `json:"std_dev"`
	UpperLimit    *float64    `json:"upper_limit,omitempty"`
	LowerLimit    *float64    `json:"lower_limit,omitempty"`
	SigmaDistance float64     `json:"sigma_distance"`
	Note          string      `json:"note"`
}

// Summary counts the anomaly list.
type Summary struct {
	Outliers  int `json:"outliers"`
	OutOfSpec int `json:"out_of_spec"`
	// Items is the number of distinct items with at least one anomaly.
	Items int `json:"items"`
	// ItemsAnalyzed is the number of items in the analysed window.
	ItemsAnalyzed int `json:"items_analyzed"`
}

// Anomalies is the deduplicated, newest-first anomaly list of one table.
type Anomalies struct {
	Rows    []Anomaly `json:"rows"`
	Summary Summary   `json:"summary"`
}

// Aggregate flags every row of the table that is either a statistical
// outlier of its item series or outside its own specification limits.
func Aggregate(t *record.Table, k float64) (*Anomalies, error) {
	if err := spc.ValidateSigma(k); err != nil {
		return nil, err
	}

	series := t.GroupByItem()
	out := &Anomalies{Rows: make([]Anomaly, 0)}
	for _, s := range series {
		cl, err := spc.ComputeControlLimits(s.Actuals(), k)
		if err != nil {
			return nil, err
		}
		for _, m := range s.Points {
			if a, ok := tag(m, cl); ok {
				out.Rows = append(out.Rows, a)
			}
		}
	}

	sort.SliceStable(out.Rows, func(i, j int) bool {
		return out.Rows[i].Date.After(out.Rows[j].Date)
	})

	out.Summary = summarize(out.Rows)
	out.Summary.ItemsAnalyzed = len(series)
	return out, nil
}

func tag(m record.Measurement, cl spc.ControlLimits) (Anomaly, bool) {
	a := Anomaly{
		Item:       m.Item,
		Date:       m.Date,
		Actual:     m.Actual,
		Mix:        m.Mix,
		Deviation:  m.Deviation(),
		Mean:       cl.Mean,
		StdDev:     cl.StdDev,
		UpperLimit: m.UpperLimit,
		LowerLimit: m.LowerLimit,
	}

	switch {
	case cl.IsOutlier(m.Actual):
		a.Kind = KindOutlier
		a.SigmaDistance = cl.SigmaDistance(m.Actual)
		a.Note = fmt.Sprintf("%.2fσ deviation", a.SigmaDistance)
	case spc.CheckSpec(m).OutOfSpec:
		a.Kind = KindOutOfSpec
		a.SigmaDistance = cl.SigmaDistance(m.Actual)
		a.Note = NoteOutOfSpec
	default:
		return Anomaly{}, false
	}
	return a, true
}

func summarize(rows []Anomaly) Summary {
	var sum Summary
	items := make(map[string]struct{})
	for _, a := range rows {
		switch a.Kind {
		case KindOutlier:
			sum.Outliers++
		case KindOutOfSpec:
			sum.OutOfSpec++
		}
		items[a.Item] = struct{}{}
	}
	sum.Items = len(items)
	return sum
}
