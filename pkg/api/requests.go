// Package api defines the shared request/response contracts of the HTTP API and CLI.
package api

import (
	"fmt"
	"strings"
	"time"

	"composition-spc/analysis/report"
	"composition-spc/analysis/window"
	spcerrors "composition-spc/pkg/errors"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// AnalyzeRequest is the input for a product analysis.
type AnalyzeRequest struct {
	Window string   `json:"window"`          // last_30, last_90, all, date_range
	From   string   `json:"from,omitempty"`  // YYYY-MM-DD, date_range only
	To     string   `json:"to,omitempty"`    // YYYY-MM-DD, date_range only
	Sigma  *float64 `json:"sigma,omitempty"` // default 3
	Items  []string `json:"items,omitempty"`
}

// Selection converts the wire window into an analysis selection.
func (r AnalyzeRequest) Selection() (window.Selection, error) {
	mode, err := window.ParseMode(r.Window)
	if err != nil {
		return window.Selection{}, err
	}
	sel := window.Selection{Mode: mode}
	if sel.Start, err = parseDate("from", r.From); err != nil {
		return window.Selection{}, err
	}
	if sel.End, err = parseDate("to", r.To); err != nil {
		return window.Selection{}, err
	}
	return sel, nil
}

// Report builds the engine request for a product.
func (r AnalyzeRequest) Report(product string) (report.Request, error) {
	sel, err := r.Selection()
	if err != nil {
		return report.Request{}, err
	}
	req := report.Request{Product: product, Selection: sel, Sigma: report.DefaultSigma, Items: r.Items}
	if r.Sigma != nil {
		req.Sigma = *r.Sigma
	}
	return req, nil
}

func parseDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, spcerrors.NewInvalidWindowError(fmt.Sprintf("%s must be YYYY-MM-DD, got %q", field, s))
	}
	return &t, nil
}

// ProductsResponse lists analysable products.
type ProductsResponse struct {
	Products []string `json:"products"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
