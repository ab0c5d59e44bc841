// Package report runs the full analysis pipeline over one product table:
// windowing, per-item statistics and the aggregate anomaly list.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"composition-spc/analysis/record"
	"composition-spc/analysis/spc"
	"composition-spc/analysis/window"
	spcerrors "composition-spc/pkg/errors"
)

// DefaultSigma is the control-limit multiplier used when none is given.
const DefaultSigma = 3.0

// Operators pick k within this range; anything else is allowed but flagged.
const (
	MinOperatorSigma = 1.0
	MaxOperatorSigma = 4.0
)

// TableSource provides product tables to the engine.
type TableSource interface {
	Products(ctx context.Context) ([]string, error)
	LoadTable(ctx context.Context, product string) (*record.Table, error)
}

// Engine is the composition SPC analysis engine. It keeps no state between
// calls; the source is only read.
type Engine struct {
	source TableSource
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a new analysis engine
func NewEngine(source TableSource, logger zerolog.Logger) *Engine {
	return &Engine{
		source: source,
		logger: logger.With().Str("component", "report").Logger(),
		now:    time.Now,
	}
}

// Request contains the operator's analysis choices
type Request struct {
	Product   string           `json:"product"`
	Selection window.Selection `json:"selection"`
	Sigma     float64          `json:"sigma"`
	// Items restricts the analysis; empty means every item.
	Items []string `json:"items,omitempty"`
}

// Result contains the complete analysis output
type Result struct {
	RunID   uuid.UUID `json:"run_id"`
	Product string    `json:"product"`

	Items     []ItemAnalysis `json:"items"`
	Anomalies *Anomalies     `json:"anomalies"`

	// Non-fatal conditions: window fallbacks, missing limits, degenerate series
	Warnings []string              `json:"warnings"`
	Notices  []*spcerrors.SPCError `json:"notices"`

	// Audit trail
	Audit Audit `json:"audit"`

	// Statistics
	RowsLoaded   int `json:"rows_loaded"`
	RowsAnalyzed int `json:"rows_analyzed"`
}

// Audit records what produced a result.
type Audit struct {
	ComputedAt time.Time        `json:"computed_at"`
	Selection  window.Selection `json:"selection"`
	Sigma      float64          `json:"sigma"`
	FirstDate  *time.Time       `json:"first_date,omitempty"`
	LastDate   *time.Time       `json:"last_date,omitempty"`
}

// Point is one measurement with its classifications.
type Point struct {
	record.Measurement
	Deviation     float64 `json:"deviation"`
	Outlier       bool    `json:"outlier"`
	SigmaDistance float64 `json:"sigma_distance"`
	SpecEvaluable bool    `json:"spec_evaluable"`
	OutOfSpec     bool    `json:"out_of_spec"`
}

// ItemAnalysis is everything computed for one item series.
type ItemAnalysis struct {
	Item   string            `json:"item"`
	N      int               `json:"n"`
	Limits spc.ControlLimits `json:"limits"`
	Points []Point           `json:"points"`

	OutlierCount int     `json:"outlier_count"`
	OutlierRatio float64 `json:"outlier_ratio"`

	Compliance spc.ComplianceSummary `json:"compliance"`
	Capability spc.Capability        `json:"capability"`
	Verdict    spc.DeviationVerdict  `json:"verdict"`
}

// ===== PIPELINE =====

// Analyze loads the product table and runs the full pipeline on it.
func (e *Engine) Analyze(ctx context.Context, req Request) (*Result, error) {
	table, err := e.source.LoadTable(ctx, req.Product)
	if err != nil {
		return nil, fmt.Errorf("failed to load table for %s: %w", req.Product, err)
	}

	result, err := e.AnalyzeTable(table, req)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("run_id", result.RunID.String()).
		Str("product", req.Product).
		Str("window", string(req.Selection.Mode)).
		Float64("sigma", result.Audit.Sigma).
		Int("items", len(result.Items)).
		Int("outliers", result.Anomalies.Summary.Outliers).
		Int("out_of_spec", result.Anomalies.Summary.OutOfSpec).
		Msg("Analysis complete")
	return result, nil
}

// AnalyzeTable runs the pipeline on an already loaded table. Sigma must be
// set explicitly; zero is rejected like any other non-positive value.
//
// Identical inputs produce bit-identical Items, Anomalies, Notices and
// Warnings. RunID and Audit.ComputedAt identify the run and differ on every call.
func (e *Engine) AnalyzeTable(table *record.Table, req Request) (*Result, error) {
	if err := spc.ValidateSigma(req.Sigma); err != nil {
		return nil, err
	}
	if req.Selection.Mode == "" {
		req.Selection.Mode = window.ModeLast30
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	windowed, warnings, err := window.Apply(table, req.Selection)
	if err != nil {
		return nil, err
	}
	windowed = windowed.FilterItems(req.Items)

	result := &Result{
		RunID:        uuid.New(),
		Product:      table.Product,
		Items:        make([]ItemAnalysis, 0),
		Warnings:     make([]string, 0),
		Notices:      make([]*spcerrors.SPCError, 0),
		RowsLoaded:   len(table.Rows),
		RowsAnalyzed: len(windowed.Rows),
		Audit: Audit{
			ComputedAt: e.now(),
			Selection:  req.Selection,
			Sigma:      req.Sigma,
		},
	}
	result.Warnings = append(result.Warnings, warnings...)
	if req.Sigma < MinOperatorSigma || req.Sigma > MaxOperatorSigma {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"sigma %.2f is outside the usual operator range %.1f-%.1f", req.Sigma, MinOperatorSigma, MaxOperatorSigma))
	}

	if first, last, ok := windowed.DateRange(); ok {
		result.Audit.FirstDate = &first
		result.Audit.LastDate = &last
	} else {
		result.Warnings = append(result.Warnings, "no measurements in the selected window")
	}

	for _, s := range windowed.GroupByItem() {
		ia, notices, err := analyzeSeries(s, req.Sigma)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, ia)
		result.Notices = append(result.Notices, notices...)
	}

	anomalies, err := Aggregate(windowed, req.Sigma)
	if err != nil {
		return nil, err
	}
	result.Anomalies = anomalies
	return result, nil
}

// ItemDetail is the drill-down for a single item under a possibly narrowed
// selection.
func (e *Engine) ItemDetail(ctx context.Context, product, item string, sel window.Selection, sigma float64) (*ItemAnalysis, []string, error) {
	table, err := e.source.LoadTable(ctx, product)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load table for %s: %w", product, err)
	}
	if len(table.Series(item).Points) == 0 {
		return nil, nil, spcerrors.NewUnknownItemError(product, item)
	}

	result, err := e.AnalyzeTable(table, Request{Product: product, Selection: sel, Sigma: sigma, Items: []string{item}})
	if err != nil {
		return nil, nil, err
	}
	if len(result.Items) == 0 {
		return nil, result.Warnings, spcerrors.NewEmptySelectionError(product, item)
	}
	return &result.Items[0], result.Warnings, nil
}

// Products lists the products available from the source.
func (e *Engine) Products(ctx context.Context) ([]string, error) {
	return e.source.Products(ctx)
}

// ===== PER-ITEM =====

func analyzeSeries(s record.ItemSeries, k float64) (ItemAnalysis, []*spcerrors.SPCError, error) {
	var notices []*spcerrors.SPCError

	cl, err := spc.ComputeControlLimits(s.Actuals(), k)
	if err != nil {
		return ItemAnalysis{}, nil, err
	}
	if cl.Degenerate {
		notices = append(notices, spcerrors.NewDegenerateSeriesWarning(s.Item, s.Len()))
	}

	verdict, err := spc.TestDeviation(s.Deviations(), k)
	if err != nil {
		return ItemAnalysis{}, nil, err
	}

	ia := ItemAnalysis{
		Item:       s.Item,
		N:          s.Len(),
		Limits:     cl,
		Points:     make([]Point, 0, s.Len()),
		Compliance: spc.Compliance(s),
		Capability: spc.CapabilityForSeries(s),
		Verdict:    verdict,
	}
	if !ia.Capability.Applicable() {
		notices = append(notices, spcerrors.NewMissingSpecLimitsWarning(s.Item))
	}

	for _, m := range s.Points {
		check := spc.CheckSpec(m)
		p := Point{
			Measurement:   m,
			Deviation:     m.Deviation(),
			Outlier:       cl.IsOutlier(m.Actual),
			SigmaDistance: cl.SigmaDistance(m.Actual),
			SpecEvaluable: check.Evaluable,
			OutOfSpec:     check.OutOfSpec,
		}
		if p.Outlier {
			ia.OutlierCount++
		}
		ia.Points = append(ia.Points, p)
	}
	if ia.N > 0 {
		ia.OutlierRatio = float64(ia.OutlierCount) / float64(ia.N)
	}
	return ia, notices, nil
}
