package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PROMETHEUS METRICS
// =============================================================================

var (
	// analysesTotal counts analysis runs by endpoint and result
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spc_analyses_total",
		Help: "Total analysis runs by endpoint and result",
	}, []string{"endpoint", "result"})

	// analysisDuration tracks end-to-end analysis latency
	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spc_analysis_duration_seconds",
		Help:    "Analysis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"endpoint"})

	// anomaliesReported counts anomaly rows returned by kind
	anomaliesReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spc_anomalies_reported_total",
		Help: "Anomaly rows returned by kind",
	}, []string{"kind"})

	// rowsAnalyzed tracks the window size of each analysis
	rowsAnalyzed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spc_rows_analyzed",
		Help:    "Measurements inside the selected window per analysis",
		Buckets: []float64{10, 30, 90, 300, 1000, 3000, 10000},
	})

	// httpRequests counts requests by route pattern and status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spc_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
)
