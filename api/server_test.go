package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composition-spc/analysis/record"
	"composition-spc/analysis/report"
	"composition-spc/ingest"
	apitypes "composition-spc/pkg/api"
	spcerrors "composition-spc/pkg/errors"
	"composition-spc/pkg/platform"
)

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func testTable() *record.Table {
	var rows []record.Measurement
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []float64{50.1, 49.9, 50.0, 50.2, 49.8, 50.0, 50.1, 49.9, 50.0, 56.0} {
		rows = append(rows, record.Measurement{
			Date: base.AddDate(0, 0, i), Item: "SiO2", Actual: v, Mix: 50,
			UpperLimit: record.Float(55), LowerLimit: record.Float(45),
		})
	}
	for i, v := range []float64{0.30, 0.31, 0.29} {
		rows = append(rows, record.Measurement{Date: base.AddDate(0, 0, i), Item: "Fe2O3", Actual: v, Mix: 0.3})
	}
	return record.NewTable("E-glass", rows)
}

func newTestServer(t *testing.T, pinger Pinger) (*Server, http.Handler) {
	t.Helper()
	engine := report.NewEngine(ingest.FromTables(testTable()), zerolog.Nop())
	s := NewServer(engine, pinger, nil, zerolog.Nop())
	return s, s.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, h = newTestServer(t, failingPinger{})
	rec = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProducts(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/products", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp apitypes.ProductsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"E-glass"}, resp.Products)
}

func TestAnalyze(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/products/E-glass/analyze", `{"window":"all","sigma":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp apitypes.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "E-glass", resp.Product)
	assert.Equal(t, 2.0, resp.Sigma)
	assert.Equal(t, 1, resp.Summary.Outliers)
	require.Len(t, resp.Anomalies, 1)
	assert.Equal(t, "2024-02-10", resp.Anomalies[0].Date)
	assert.Equal(t, "outlier", resp.Anomalies[0].Kind)
}

func TestAnalyze_EmptyBodyUsesDefaults(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/products/E-glass/analyze", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp apitypes.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "last_30", resp.Window)
	assert.Equal(t, report.DefaultSigma, resp.Sigma)
}

func TestAnalyze_ErrorStatuses(t *testing.T) {
	_, h := newTestServer(t, nil)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown product", "/api/v1/products/S-glass/analyze", `{}`, http.StatusNotFound, spcerrors.ErrCodeUnknownProduct},
		{"bad sigma", "/api/v1/products/E-glass/analyze", `{"sigma":-1}`, http.StatusBadRequest, spcerrors.ErrCodeInvalidSigma},
		{"zero sigma", "/api/v1/products/E-glass/analyze", `{"sigma":0}`, http.StatusBadRequest, spcerrors.ErrCodeInvalidSigma},
		{"bad window", "/api/v1/products/E-glass/analyze", `{"window":"weekly"}`, http.StatusBadRequest, spcerrors.ErrCodeInvalidWindow},
		{"inverted range", "/api/v1/products/E-glass/analyze", `{"window":"date_range","from":"2024-02-09","to":"2024-02-01"}`, http.StatusBadRequest, spcerrors.ErrCodeInvalidWindow},
		{"bad json", "/api/v1/products/E-glass/analyze", `{`, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code)

			var resp apitypes.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestItemDetail(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/products/E-glass/items/SiO2?window=date_range&from=2024-02-01&to=2024-02-05&sigma=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ItemDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Summary.N)
	assert.Len(t, resp.Points, 5)

	rec = do(t, h, http.MethodGet, "/api/v1/products/E-glass/items/MgO", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products/E-glass/items/SiO2?sigma=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.WithAuthorizer(platform.APIKey{Key: "secret"}).Router()

	rec := do(t, h, http.MethodGet, "/api/v1/products", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	do(t, h, http.MethodPost, "/api/v1/products/E-glass/analyze", `{"window":"all"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spc_analyses_total")
	assert.Contains(t, rec.Body.String(), "spc_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://plant.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://plant.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestItemDetail_NoSpecLimits(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/products/E-glass/items/Fe2O3?window=all", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw struct {
		Summary map[string]json.RawMessage `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "false", string(raw.Summary["spec_applicable"]))
	assert.Equal(t, "null", string(raw.Summary["out_of_spec"]))
	assert.Equal(t, "null", string(raw.Summary["out_of_spec_ratio"]))

	var resp ItemDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Summary.N)
	assert.Nil(t, resp.Summary.OutOfSpec)
}
