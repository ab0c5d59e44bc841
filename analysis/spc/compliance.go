package spc

import "composition-spc/analysis/record"

// SpecCheck is the specification verdict for one measurement.
type SpecCheck struct {
	Evaluable bool `json:"evaluable"`
	OutOfSpec bool `json:"out_of_spec"`
}

// CheckSpec compares the actual value with the row's own limits. A row
// missing either limit is not evaluable and never out of spec.
func CheckSpec(m record.Measurement) SpecCheck {
	if !m.HasSpec() {
		return SpecCheck{}
	}
	return SpecCheck{
		Evaluable: true,
		OutOfSpec: m.Actual > *m.UpperLimit || m.Actual < *m.LowerLimit,
	}
}

// ComplianceSummary counts out-of-spec points for one item.
type ComplianceSummary struct {
	// Applicable is false when no row carries both limits.
	Applicable bool    `json:"applicable"`
	Evaluated  int     `json:"evaluated"`
	OutOfSpec  int     `json:"out_of_spec"`
	Ratio      float64 `json:"ratio"`
}

// Compliance evaluates every point of the series. Ratio is relative to the
// whole series, matching how operators read "n of N out of spec".
func Compliance(s record.ItemSeries) ComplianceSummary {
	var sum ComplianceSummary
	for _, m := range s.Points {
		c := CheckSpec(m)
		if !c.Evaluable {
			continue
		}
		sum.Evaluated++
		if c.OutOfSpec {
			sum.OutOfSpec++
		}
	}
	sum.Applicable = sum.Evaluated > 0
	if n := s.Len(); n > 0 {
		sum.Ratio = float64(sum.OutOfSpec) / float64(n)
	}
	return sum
}
