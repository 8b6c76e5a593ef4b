package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/config"
	"github.com/patrickwarner/adscan/internal/middleware"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/pipeline"
	"github.com/patrickwarner/adscan/internal/ratelimit"
	"github.com/patrickwarner/adscan/internal/workerpool"
)

// Server holds the wired pipeline and serves the HTTP API.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	resolver pipeline.Resolver
	batch    *pipeline.Batch
	csvBatch *pipeline.Batch
	checker  AppAdsChecker
	cache    *cache.Cache
	pool     *workerpool.Pool
	limiter  *ratelimit.Limiter
	started  time.Time
}

// AppAdsChecker is the slice of the analyser the server calls directly for
// the domain-level endpoints.
type AppAdsChecker interface {
	Check(ctx context.Context, domain string, terms []models.SearchTerm) *models.AppAdsReport
}

// Deps collects the server's collaborators.
type Deps struct {
	Resolver pipeline.Resolver
	Batch    *pipeline.Batch
	CSVBatch *pipeline.Batch
	Checker  AppAdsChecker
	Cache    *cache.Cache
	Pool     *workerpool.Pool
	Limiter  *ratelimit.Limiter
}

// NewServer builds the server around the given dependencies.
func NewServer(cfg config.Config, deps Deps, logger *zap.Logger, metrics observability.MetricsRegistry) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		resolver: deps.Resolver,
		batch:    deps.Batch,
		csvBatch: deps.CSVBatch,
		checker:  deps.Checker,
		cache:    deps.Cache,
		pool:     deps.Pool,
		limiter:  deps.Limiter,
		started:  time.Now(),
	}
}

// Routes assembles the router with the full middleware chain.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/extract", s.timed(s.handleExtract)).Methods(http.MethodPost)
	api.HandleFunc("/extract-multiple", s.timed(s.handleExtractMultiple)).Methods(http.MethodPost)
	api.HandleFunc("/export-csv", s.timed(s.handleExportCSV)).Methods(http.MethodPost)
	api.HandleFunc("/check-app-ads", s.timed(s.handleCheckAppAds)).Methods(http.MethodGet)
	api.HandleFunc("/structured-search", s.timed(s.handleStructuredSearch)).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	// Streaming endpoints run without the unary deadline; heartbeats keep the
	// connection alive for as long as the batch takes.
	api.HandleFunc("/stream/extract-multiple", s.handleStreamExtractMultiple).Methods(http.MethodPost)
	api.HandleFunc("/stream/export-csv", s.handleStreamExportCSV).Methods(http.MethodPost)

	ipLimiter := middleware.NewIPRateLimiter(s.cfg.APIRateLimit, s.cfg.APIRateBurst)

	var handler http.Handler = r
	handler = s.measure(handler)
	handler = ipLimiter.Middleware(handler)
	handler = middleware.WithRequestLogger(s.logger)(handler)
	return handler
}

// timed wraps unary handlers with the per-request wall-clock cap.
func (s *Server) timed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		h(w, r.WithContext(ctx))
	}
}

// measure records request count and latency per route.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.IncrementRequests(r.URL.Path, r.Method, http.StatusText(rec.status))
		s.metrics.RecordRequestLatency(r.URL.Path, r.Method, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so streaming handlers can flush per result.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
