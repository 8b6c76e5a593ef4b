package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/middleware"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/pipeline"
	"github.com/patrickwarner/adscan/internal/stores"
)

// handleExtract resolves a single bundle ID.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}
	if req.BundleID == "" {
		writeError(w, r, KindBadRequest, "bundleId is required", nil)
		return
	}
	terms, err := req.terms()
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}

	result := s.resolver.Resolve(r.Context(), req.BundleID, terms)
	writeJSON(w, http.StatusOK, struct {
		Success bool                    `json:"success"`
		Result  models.ExtractionResult `json:"result"`
	}{Success: true, Result: result})
}

// preparedBatch validates the shared batch request shape.
func (s *Server) preparedBatch(w http.ResponseWriter, r *http.Request, b *pipeline.Batch) (ids []string, terms []models.SearchTerm, req *extractRequest, ok bool) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return nil, nil, nil, false
	}
	if len(req.BundleIDs) == 0 {
		writeError(w, r, KindBadRequest, "bundleIds is required", nil)
		return nil, nil, nil, false
	}
	terms, err = req.terms()
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return nil, nil, nil, false
	}

	ids, overCap := b.Prepare(req.BundleIDs)
	if overCap {
		writeError(w, r, KindBadRequest,
			fmt.Sprintf("too many bundle ids: %d exceeds the limit of %d", len(ids), b.MaxBundleIDs()),
			map[string]int{
				"submitted": len(req.BundleIDs),
				"usable":    len(ids),
				"limit":     b.MaxBundleIDs(),
			})
		return nil, nil, nil, false
	}
	if len(ids) == 0 {
		writeError(w, r, KindValidationRejected, "no usable bundle ids after filtering", map[string]int{
			"submitted": len(req.BundleIDs),
			"usable":    0,
		})
		return nil, nil, nil, false
	}
	return ids, terms, req, true
}

// handleExtractMultiple resolves a batch and returns one page of results.
func (s *Server) handleExtractMultiple(w http.ResponseWriter, r *http.Request) {
	ids, terms, req, ok := s.preparedBatch(w, r, s.batch)
	if !ok {
		return
	}

	batch := s.batch.ResolveAll(r.Context(), ids, terms)
	pageSize := s.clampPageSize(req.PageSize)
	results, pagination := batch.Page(req.Page, pageSize)

	resp := struct {
		Success        bool                      `json:"success"`
		Results        []models.ExtractionResult `json:"results"`
		Counts         models.BatchCounts        `json:"counts"`
		Pagination     models.Pagination         `json:"pagination"`
		CacheHitRate   float64                   `json:"cacheHitRate"`
		SearchStats    []models.TermStat         `json:"searchStats,omitempty"`
		DomainAnalysis *models.DomainAnalysis    `json:"domainAnalysis,omitempty"`
	}{
		Success:      true,
		Results:      results,
		Counts:       batch.Counts,
		Pagination:   pagination,
		CacheHitRate: batch.CacheHitRate,
	}
	if req.FullAnalysis {
		resp.SearchStats = batch.SearchStats
		resp.DomainAnalysis = batch.DomainAnalysis
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExportCSV resolves the whole batch and renders it as CSV, without
// pagination and with the larger CSV id cap.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	ids, terms, _, ok := s.preparedBatch(w, r, s.csvBatch)
	if !ok {
		return
	}

	batch := s.csvBatch.ResolveAll(r.Context(), ids, terms)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="app-ads-results.csv"`)
	if err := pipeline.WriteCSV(w, batch); err != nil {
		middleware.LoggerFromRequest(r, s.logger).Error("csv export", zap.Error(err))
	}
}

// handleCheckAppAds checks one domain directly, skipping store resolution.
func (s *Server) handleCheckAppAds(w http.ResponseWriter, r *http.Request) {
	domain, err := stores.NormalizeDomain(r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}
	terms, err := splitPlainTerms(r.URL.Query().Get("searchTerms"))
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}

	report := s.checker.Check(r.Context(), domain, terms)
	writeJSON(w, http.StatusOK, struct {
		Success bool                 `json:"success"`
		Result  *models.AppAdsReport `json:"result"`
	}{Success: true, Result: report})
}

// handleStructuredSearch runs a single structured query against one domain.
func (s *Server) handleStructuredSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string                `json:"domain"`
		Query  models.StructuredTerm `json:"query"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyBytes)
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}

	domain, err := stores.NormalizeDomain(body.Domain)
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}
	term, err := models.NewStructuredTerm(body.Query)
	if err != nil {
		writeError(w, r, KindBadRequest, err.Error(), nil)
		return
	}

	report := s.checker.Check(r.Context(), domain, []models.SearchTerm{term})
	if !report.Exists {
		writeJSON(w, http.StatusOK, struct {
			Success bool                 `json:"success"`
			Result  *models.SearchResult `json:"result"`
			Error   string               `json:"error,omitempty"`
		}{Success: false, Error: fmt.Sprintf("no app-ads.txt found for %s", domain)})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool                 `json:"success"`
		Result  *models.SearchResult `json:"result"`
	}{Success: true, Result: report.Search})
}

// handleStats reports cache, memory and worker occupancy.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := map[string]any{
		"cache":   s.cache.Stats(),
		"hitRate": s.cache.HitRate(),
		"memory": map[string]any{
			"heapAllocBytes": ms.HeapAlloc,
			"heapSysBytes":   ms.HeapSys,
			"numGC":          ms.NumGC,
			"goroutines":     runtime.NumGoroutine(),
		},
		"workers":       s.pool.Stats(),
		"rateLimits":    s.limiter.Snapshot(),
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool           `json:"success"`
		Stats   map[string]any `json:"stats"`
	}{Success: true, Stats: stats})
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "up",
		"uptime":     time.Since(s.started).String(),
		"cacheStats": s.cache.Stats(),
		"version":    s.cfg.Version,
	})
}
