// Package spc implements the statistical process control computations:
// control limits, specification compliance, process capability and the
// mix-vs-actual deviation test. Every function is a pure batch pass.
package spc

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

// ControlLimits are the sigma-based statistical limits of one item series.
type ControlLimits struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Sigma  float64 `json:"sigma_multiplier"`
	UCL    float64 `json:"statistical_ucl"`
	LCL    float64 `json:"statistical_lcl"`

	// Degenerate is set when n < 2 or the series has no dispersion.
	// Both limits then collapse to the mean and nothing is an outlier.
	Degenerate bool `json:"degenerate"`
}

// ValidateSigma rejects non-positive or non-finite multipliers.
func ValidateSigma(k float64) error {
	if math.IsNaN(k) || math.IsInf(k, 0) || k <= 0 {
		return spcerrors.NewInvalidSigmaError(k)
	}
	return nil
}

// ComputeControlLimits derives mean ± k·s from the actual values, where s is
// the sample standard deviation.
func ComputeControlLimits(actuals []float64, k float64) (ControlLimits, error) {
	if err := ValidateSigma(k); err != nil {
		return ControlLimits{}, err
	}

	n := len(actuals)
	cl := ControlLimits{N: n, Sigma: k}
	if n == 0 {
		cl.Degenerate = true
		return cl, nil
	}
	if n == 1 {
		cl.Mean = actuals[0]
		cl.UCL, cl.LCL = cl.Mean, cl.Mean
		cl.Degenerate = true
		return cl, nil
	}

	mean, std := stat.MeanStdDev(actuals, nil)
	cl.Mean = mean
	if std == 0 || math.IsNaN(std) {
		cl.UCL, cl.LCL = mean, mean
		cl.Degenerate = true
		return cl, nil
	}

	cl.StdDev = std
	cl.UCL = mean + k*std
	cl.LCL = mean - k*std
	return cl, nil
}

// IsOutlier reports |actual − mean| > k·s. Vacuously false for a degenerate series.
func (cl ControlLimits) IsOutlier(actual float64) bool {
	if cl.Degenerate {
		return false
	}
	return math.Abs(actual-cl.Mean) > cl.Sigma*cl.StdDev
}

// SigmaDistance is |actual − mean| in standard deviations; 0 when degenerate.
func (cl ControlLimits) SigmaDistance(actual float64) float64 {
	if cl.Degenerate {
		return 0
	}
	return math.Abs(actual-cl.Mean) / cl.StdDev
}

// ClassifyOutliers flags each point of the series.
func ClassifyOutliers(s record.ItemSeries, cl ControlLimits) []bool {
	out := make([]bool, len(s.Points))
	for i, m := range s.Points {
		out[i] = cl.IsOutlier(m.Actual)
	}
	return out
}

// CountOutliers counts flagged points.
func CountOutliers(s record.ItemSeries, cl ControlLimits) int {
	n := 0
	for _, m := range s.Points {
		if cl.IsOutlier(m.Actual) {
			n++
		}
	}
	return n
}
