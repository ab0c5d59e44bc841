package api

import (
	"fmt"
	"time"

	"composition-spc/analysis/report"
	"composition-spc/analysis/spc"
	spcerrors "composition-spc/pkg/errors"
)

// AnalyzeResponse is the API response for a product analysis.
type AnalyzeResponse struct {
	RunID   string `json:"run_id"`
	Product string `json:"product"`

	// Selection
	Window    string  `json:"window"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Sigma     float64 `json:"sigma"`
	FirstDate string  `json:"first_date,omitempty"`
	LastDate  string  `json:"last_date,omitempty"`

	Summary   report.Summary    `json:"summary"`
	Anomalies []AnomalyResponse `json:"anomalies"`
	Items     []ItemSummary     `json:"items"`

	Warnings []string              `json:"warnings"`
	Notices  []*spcerrors.SPCError `json:"notices"`

	// Audit
	ComputedAt   string `json:"computed_at"`
	RowsLoaded   int    `json:"rows_loaded"`
	RowsAnalyzed int    `json:"rows_analyzed"`
}

// AnomalyResponse is one row of the anomaly list
type AnomalyResponse struct {
	Kind          string   `json:"kind"`
	Item          string   `json:"item"`
	Date          string   `json:"date"`
	Actual        float64  `json:"actual"`
	Mix           float64  `json:"mix"`
	Deviation     float64  `json:"deviation"`
	Mean          float64  `json:"mean"`
	StdDev        float64  `json:"std_dev"`
	UpperLimit    *float64 `json:"upper_limit"`
	LowerLimit    *float64 `json:"lower_limit"`
	SigmaDistance float64  `json:"sigma_distance"`
	Note          string   `json:"note"`
}

// ItemSummary is the per-item statistics block
type ItemSummary struct {
	Item   string  `json:"item"`
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	UCL    float64 `json:"statistical_ucl"`
	LCL    float64 `json:"statistical_lcl"`

	Outliers       int     `json:"outliers"`
	OutlierRatio   float64 `json:"outlier_ratio"`

	// SpecApplicable is false when no row carries both limits; the
	// out-of-spec fields are then null rather than zero.
	SpecApplicable bool     `json:"spec_applicable"`
	OutOfSpec      *int     `json:"out_of_spec"`
	OutOfSpecRatio *float64 `json:"out_of_spec_ratio"`

	Capability spc.Capability `json:"capability"`

	MeanDeviation float64  `json:"mean_deviation"`
	TStatistic    *float64 `json:"t_statistic"`
	PValue        float64  `json:"p_value"`
	Direction     string   `json:"direction"`
	Judgment      string   `json:"judgment"`
	Diagnosis     string   `json:"diagnosis"`
}

// NewAnalyzeResponse flattens an engine result for the wire.
func NewAnalyzeResponse(res *report.Result) AnalyzeResponse {
	resp := AnalyzeResponse{
		RunID:        res.RunID.String(),
		Product:      res.Product,
		Window:       string(res.Audit.Selection.Mode),
		Sigma:        res.Audit.Sigma,
		Summary:      res.Anomalies.Summary,
		Anomalies:    make([]AnomalyResponse, 0, len(res.Anomalies.Rows)),
		Items:        make([]ItemSummary, 0, len(res.Items)),
		Warnings:     res.Warnings,
		Notices:      res.Notices,
		ComputedAt:   res.Audit.ComputedAt.UTC().Format(time.RFC3339),
		RowsLoaded:   res.RowsLoaded,
		RowsAnalyzed: res.RowsAnalyzed,
	}
	if s := res.Audit.Selection.Start; s != nil {
		resp.From = s.Format(DateLayout)
	}
	if e := res.Audit.Selection.End; e != nil {
		resp.To = e.Format(DateLayout)
	}
	if res.Audit.FirstDate != nil {
		resp.FirstDate = res.Audit.FirstDate.Format(DateLayout)
		resp.LastDate = res.Audit.LastDate.Format(DateLayout)
	}

	for _, a := range res.Anomalies.Rows {
		resp.Anomalies = append(resp.Anomalies, AnomalyResponse{
			Kind:          string(a.Kind),
			Item:          a.Item,
			Date:          a.Date.Format(DateLayout),
			Actual:        a.Actual,
			Mix:           a.Mix,
			Deviation:     a.Deviation,
			Mean:          a.Mean,
			StdDev:        a.StdDev,
			UpperLimit:    a.UpperLimit,
			LowerLimit:    a.LowerLimit,
			SigmaDistance: a.SigmaDistance,
			Note:          a.Note,
		})
	}

	for _, ia := range res.Items {
		resp.Items = append(resp.Items, NewItemSummary(ia))
	}
	return resp
}

// NewItemSummary condenses an item analysis.
func NewItemSummary(ia report.ItemAnalysis) ItemSummary {
	sum := ItemSummary{
		Item:           ia.Item,
		N:              ia.N,
		Mean:           ia.Limits.Mean,
		StdDev:         ia.Limits.StdDev,
		UCL:            ia.Limits.UCL,
		LCL:            ia.Limits.LCL,
		Outliers:       ia.OutlierCount,
		OutlierRatio:   ia.OutlierRatio,
		SpecApplicable: ia.Compliance.Applicable,
		Capability:     ia.Capability,
		MeanDeviation:  ia.Verdict.MeanDeviation,
		TStatistic:     ia.Verdict.TStatistic,
		PValue:         ia.Verdict.PValue,
		Direction:      string(ia.Verdict.Direction),
		Judgment:       ia.Verdict.Direction.Judgment(),
		Diagnosis:      ia.Verdict.Direction.Diagnosis(),
	}
	if ia.Compliance.Applicable {
		n, ratio := ia.Compliance.OutOfSpec, ia.Compliance.Ratio
		sum.OutOfSpec = &n
		sum.OutOfSpecRatio = &ratio
	}
	return sum
}

// OutOfSpecText renders the out-of-spec count for reports, "n/a" without limits.
func (s ItemSummary) OutOfSpecText() string {
	if !s.SpecApplicable || s.OutOfSpec == nil || s.OutOfSpecRatio == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d (%.1f%%)", *s.OutOfSpec, *s.OutOfSpecRatio*100)
}
