package spc

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SignificanceLevel is the alpha of the mix-vs-actual test.
const SignificanceLevel = 0.05

// Direction is the systematic bias of actual relative to mix.
type Direction string

const (
	DirectionHigher Direction = "higher"
	DirectionLower  Direction = "lower"
	DirectionNone   Direction = "none"
)

// Judgment is the statistical reading of the direction.
func (d Direction) Judgment() string {
	switch d {
	case DirectionHigher:
		return "Actual is significantly higher than mix"
	case DirectionLower:
		return "Actual is significantly lower than mix"
	default:
		return "No significant difference between actual and mix"
	}
}

// Diagnosis is the process hypothesis an operator should check first.
func (d Direction) Diagnosis() string {
	switch d {
	case DirectionHigher:
		return "Mix set point may be below the real charge, or the measurement has a positive bias"
	case DirectionLower:
		return "Possible material loss in the process, or less raw material charged than the set point"
	default:
		return "Mix and actual agree"
	}
}

// DeviationVerdict is the outcome of testing mean(actual − mix) against zero.
type DeviationVerdict struct {
	N                int     `json:"n"`
	MeanDeviation    float64 `json:"mean_deviation"`
	StdDeviation     float64 `json:"std_deviation"`
	AbsMeanDeviation float64 `json:"abs_mean_deviation"`

	// TStatistic is nil when the statistic is infinite (zero variance,
	// non-zero mean) or the test could not run.
	TStatistic *float64 `json:"t_statistic,omitempty"`
	PValue     float64  `json:"p_value"`
	// Tested is false for n < 2 or a series that is identically zero;
	// PValue is then 1 and Direction none.
	Tested    bool      `json:"tested"`
	Direction Direction `json:"direction"`

	// Control band of the deviation series, mean ± k·s.
	BandUCL float64 `json:"band_ucl"`
	BandLCL float64 `json:"band_lcl"`
}

// Significant reports p < SignificanceLevel.
func (v DeviationVerdict) Significant() bool {
	return v.Tested && v.PValue < SignificanceLevel
}

// TestDeviation runs a two-sided one-sample Student's t-test of the deviation
// series against zero and classifies the direction of any bias.
func TestDeviation(deviations []float64, k float64) (DeviationVerdict, error) {
	if err := ValidateSigma(k); err != nil {
		return DeviationVerdict{}, err
	}

	n := len(deviations)
	v := DeviationVerdict{N: n, PValue: 1, Direction: DirectionNone}
	if n == 0 {
		return v, nil
	}

	absSum := 0.0
	for _, d := range deviations {
		absSum += math.Abs(d)
	}
	v.AbsMeanDeviation = absSum / float64(n)

	if n == 1 {
		v.MeanDeviation = deviations[0]
		v.BandUCL, v.BandLCL = v.MeanDeviation, v.MeanDeviation
		return v, nil
	}

	mean, std := stat.MeanStdDev(deviations, nil)
	if math.IsNaN(std) {
		std = 0
	}
	v.MeanDeviation = mean
	v.StdDeviation = std
	v.BandUCL = mean + k*std
	v.BandLCL = mean - k*std

	switch {
	case std == 0 && mean == 0:
		return v, nil
	case std == 0:
		// Constant non-zero offset: the statistic diverges and p is 0.
		v.Tested = true
		v.PValue = 0
	default:
		t := mean / (std / math.Sqrt(float64(n)))
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
		v.TStatistic = &t
		v.Tested = true
		v.PValue = math.Min(1, 2*dist.Survival(math.Abs(t)))
	}

	v.Direction = classify(v.PValue, mean)
	return v, nil
}

func classify(p, meanDeviation float64) Direction {
	if p < SignificanceLevel {
		switch {
		case meanDeviation > 0:
			return DirectionHigher
		case meanDeviation < 0:
			return DirectionLower
		}
	}
	return DirectionNone
}
