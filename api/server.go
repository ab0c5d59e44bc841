// Package api provides the HTTP API server for composition SPC analysis
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"composition-spc/analysis/report"
	apitypes "composition-spc/pkg/api"
	spcerrors "composition-spc/pkg/errors"
	"composition-spc/pkg/platform"
)

var version = "0.1.0"

// Pinger is implemented by sources backed by a database
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	engine     *report.Engine
	pinger     Pinger
	auth       platform.Authorizer
	config     *Config
	logger     zerolog.Logger
	startTime  time.Time
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxRequestSize int64
	CORSOrigins    []string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxRequestSize: 1 << 20, // 1MB
		CORSOrigins:    []string{"*"},
	}
}

// NewServer creates a new API server. pinger may be nil for in-memory sources.
func NewServer(engine *report.Engine, pinger Pinger, config *Config, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		engine:    engine,
		pinger:    pinger,
		auth:      platform.APIKey{},
		config:    config,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
}

// WithAuthorizer protects the /api routes
func (s *Server) WithAuthorizer(a platform.Authorizer) *Server {
	s.auth = a
	return s
}

// Router builds the route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.RequestTimeout))
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(platform.AuthMiddleware(s.auth))
		r.Get("/products", s.handleProducts)
		r.Post("/products/{product}/analyze", s.handleAnalyze)
		r.Get("/products/{product}/items/{item}", s.handleItemDetail)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Str("version", version).Msg("Starting SPC API server")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown() error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info().Msg("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			s.jsonError(w, http.StatusServiceUnavailable, errors.New("database not ready"))
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// =============================================================================
// ANALYSIS ENDPOINTS
// =============================================================================

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.engine.Products(r.Context())
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err)
		return
	}
	if products == nil {
		products = []string{}
	}
	s.jsonResponse(w, http.StatusOK, apitypes.ProductsResponse{Products: products})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	product := chi.URLParam(r, "product")

	var body apitypes.AnalyzeRequest
	raw, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err))
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			s.jsonError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
	}

	req, err := body.Report(product)
	if err != nil {
		analysesTotal.WithLabelValues("analyze", "rejected").Inc()
		s.jsonError(w, statusFor(err), err)
		return
	}

	res, err := s.engine.Analyze(r.Context(), req)
	analysisDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	if err != nil {
		analysesTotal.WithLabelValues("analyze", "error").Inc()
		s.jsonError(w, statusFor(err), err)
		return
	}

	analysesTotal.WithLabelValues("analyze", "ok").Inc()
	rowsAnalyzed.Observe(float64(res.RowsAnalyzed))
	anomaliesReported.WithLabelValues(string(report.KindOutlier)).Add(float64(res.Anomalies.Summary.Outliers))
	anomaliesReported.WithLabelValues(string(report.KindOutOfSpec)).Add(float64(res.Anomalies.Summary.OutOfSpec))

	s.jsonResponse(w, http.StatusOK, apitypes.NewAnalyzeResponse(res))
}

// ItemDetailResponse is the drill-down payload
type ItemDetailResponse struct {
	Product  string               `json:"product"`
	Summary  apitypes.ItemSummary `json:"summary"`
	Points   []report.Point       `json:"points"`
	Warnings []string             `json:"warnings"`
}

func (s *Server) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	product := chi.URLParam(r, "product")
	item := chi.URLParam(r, "item")

	q := r.URL.Query()
	body := apitypes.AnalyzeRequest{Window: q.Get("window"), From: q.Get("from"), To: q.Get("to")}
	if v := q.Get("sigma"); v != "" {
		sigma, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, spcerrors.NewParseError("sigma", fmt.Sprintf("sigma must be a number, got %q", v)))
			return
		}
		body.Sigma = &sigma
	}

	req, err := body.Report(product)
	if err != nil {
		s.jsonError(w, statusFor(err), err)
		return
	}

	ia, warnings, err := s.engine.ItemDetail(r.Context(), product, item, req.Selection, req.Sigma)
	analysisDuration.WithLabelValues("item").Observe(time.Since(start).Seconds())
	if err != nil {
		analysesTotal.WithLabelValues("item", "error").Inc()
		s.jsonError(w, statusFor(err), err)
		return
	}
	analysesTotal.WithLabelValues("item", "ok").Inc()

	if warnings == nil {
		warnings = []string{}
	}
	s.jsonResponse(w, http.StatusOK, ItemDetailResponse{
		Product:  product,
		Summary:  apitypes.NewItemSummary(*ia),
		Points:   ia.Points,
		Warnings: warnings,
	})
}

// statusFor maps analysis error codes to HTTP statuses
func statusFor(err error) int {
	switch spcerrors.CodeOf(err) {
	case spcerrors.ErrCodeMissingColumn, spcerrors.ErrCodeInvalidSigma,
		spcerrors.ErrCodeInvalidWindow, spcerrors.ErrCodeParseFailed:
		return http.StatusBadRequest
	case spcerrors.ErrCodeUnknownProduct, spcerrors.ErrCodeUnknownItem:
		return http.StatusNotFound
	case spcerrors.ErrCodeEmptySelection:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	s.jsonResponse(w, status, apitypes.ErrorResponse{
		Error: err.Error(),
		Code:  spcerrors.CodeOf(err),
	})
}
