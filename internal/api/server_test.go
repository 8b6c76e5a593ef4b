package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/config"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/pipeline"
	"github.com/patrickwarner/adscan/internal/ratelimit"
	"github.com/patrickwarner/adscan/internal/streamjson"
	"github.com/patrickwarner/adscan/internal/workerpool"
)

// fakeResolver resolves every well-formed reverse-DNS id successfully and
// rejects everything else the way the real pipeline would.
type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, bundleID string, terms []models.SearchTerm) models.ExtractionResult {
	if !strings.Contains(bundleID, ".") {
		return models.ExtractionResult{
			BundleID:  bundleID,
			StoreKind: models.StoreUnknown,
			Error:     "bundle id does not match any supported store format",
		}
	}
	return models.ExtractionResult{
		BundleID:         bundleID,
		StoreKind:        models.StoreGooglePlay,
		Success:          true,
		DeveloperURL:     "https://example.com",
		Domain:           "example.com",
		ProcessingMethod: models.ProcessingSync,
		AppAdsTxt: &models.AppAdsReport{
			Exists:           true,
			ProcessingMethod: models.ProcessingSync,
			Analyzed:         &models.AppAdsAnalysis{TotalLines: 2, ValidLines: 2},
		},
	}
}

// fakeChecker returns a fixed report; domains containing "missing" have no file.
type fakeChecker struct{}

func (fakeChecker) Check(ctx context.Context, domain string, terms []models.SearchTerm) *models.AppAdsReport {
	if strings.Contains(domain, "missing") {
		return &models.AppAdsReport{ProcessingMethod: models.ProcessingNone}
	}
	report := &models.AppAdsReport{
		Exists:           true,
		URL:              "https://" + domain + "/app-ads.txt",
		ProcessingMethod: models.ProcessingSync,
		Analyzed:         &models.AppAdsAnalysis{TotalLines: 3, ValidLines: 3},
	}
	if len(terms) > 0 {
		report.Search = &models.SearchResult{
			Terms: []string{terms[0].Label()},
			Count: 1,
			PerTerm: []models.TermResult{
				{Term: terms[0].Label(), Count: 1},
			},
		}
	}
	return report
}

func testConfig() config.Config {
	return config.Config{
		Version:             "test",
		RequestTimeout:      10 * time.Second,
		MaxPageSize:         50,
		MaxRequestBodyBytes: 1 << 20,
		HeartbeatInterval:   100 * time.Millisecond,
		APIRateLimit:        1000,
		APIRateBurst:        1000,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewNoOpRegistry()

	c, err := cache.New(cache.Options{MemoryEnabled: true, MaxItems: 100}, logger, metrics)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	pool := workerpool.New(workerpool.Config{Min: 1, Max: 2, TaskTimeout: 5 * time.Second, QueueSize: 8}, logger, metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})
	limiter := ratelimit.New(nil, ratelimit.Config{Requests: 1000, Window: time.Second}, nil, logger, metrics)

	resolver := fakeResolver{}
	batch := pipeline.NewBatch(resolver, nil, pipeline.BatchConfig{MaxBundleIDs: 10, Concurrency: 4}, logger, metrics)
	csvBatch := pipeline.NewBatch(resolver, nil, pipeline.BatchConfig{MaxBundleIDs: 20, Concurrency: 4}, logger, metrics)

	srv := NewServer(testConfig(), Deps{
		Resolver: resolver,
		Batch:    batch,
		CSVBatch: csvBatch,
		Checker:  fakeChecker{},
		Cache:    c,
		Pool:     pool,
		Limiter:  limiter,
	}, logger, metrics)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "up", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestExtract(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/extract", map[string]any{"bundleId": "com.example.app"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                    `json:"success"`
		Result  models.ExtractionResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "com.example.app", body.Result.BundleID)
	assert.Equal(t, "example.com", body.Result.Domain)
}

func TestExtractRequiresBundleID(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/extract", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorEnvelope
	decodeBody(t, resp, &body)
	assert.Equal(t, KindBadRequest, body.Error.Kind)
}

func TestExtractRejectsMalformedJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/extract", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExtractMultiplePagination(t *testing.T) {
	ts := newTestServer(t)

	ids := []string{"com.a", "com.b", "com.c", "com.d", "com.e", "com.f", "com.g"}
	resp := postJSON(t, ts.URL+"/api/extract-multiple", map[string]any{
		"bundleIds": ids,
		"page":      2,
		"pageSize":  5,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success    bool                      `json:"success"`
		Results    []models.ExtractionResult `json:"results"`
		Counts     models.BatchCounts        `json:"counts"`
		Pagination models.Pagination         `json:"pagination"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Len(t, body.Results, 2, "page 2 of 7 items at size 5")
	assert.Equal(t, 2, body.Pagination.CurrentPage)
	assert.Equal(t, 2, body.Pagination.TotalPages)
	assert.Equal(t, 7, body.Pagination.TotalItems)
	assert.True(t, body.Pagination.HasPrev)
	assert.False(t, body.Pagination.HasNext)
	assert.Equal(t, 7, body.Counts.Success)
}

func TestExtractMultipleFullAnalysisGate(t *testing.T) {
	ts := newTestServer(t)

	req := map[string]any{"bundleIds": []string{"com.a"}, "searchTerms": "google.com"}

	resp := postJSON(t, ts.URL+"/api/extract-multiple", req)
	var plain map[string]json.RawMessage
	decodeBody(t, resp, &plain)
	assert.NotContains(t, plain, "searchStats")

	req["fullAnalysis"] = true
	resp = postJSON(t, ts.URL+"/api/extract-multiple", req)
	var full map[string]json.RawMessage
	decodeBody(t, resp, &full)
	assert.Contains(t, full, "searchStats")
}

func TestExtractMultipleRejectsEmptyAfterFiltering(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/extract-multiple", map[string]any{
		"bundleIds": []string{"", "  ", ""},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorEnvelope
	decodeBody(t, resp, &body)
	assert.Equal(t, KindValidationRejected, body.Error.Kind)
}

func TestExtractMultipleRejectsTooManyIDs(t *testing.T) {
	ts := newTestServer(t)

	// One past the test batch cap of 10; nothing may be processed.
	ids := make([]string, 11)
	for i := range ids {
		ids[i] = fmt.Sprintf("com.example.app%d", i)
	}
	resp := postJSON(t, ts.URL+"/api/extract-multiple", map[string]any{"bundleIds": ids})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorEnvelope
	decodeBody(t, resp, &body)
	assert.Equal(t, KindBadRequest, body.Error.Kind)
	assert.Contains(t, body.Error.Message, "too many bundle ids")
}

func TestCheckAppAds(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/check-app-ads?domain=example.com&searchTerms=google.com")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                 `json:"success"`
		Result  *models.AppAdsReport `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	require.NotNil(t, body.Result)
	assert.True(t, body.Result.Exists)
	require.NotNil(t, body.Result.Search)
	assert.Equal(t, 1, body.Result.Search.Count)
}

func TestCheckAppAdsRequiresDomain(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/check-app-ads")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStructuredSearch(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/structured-search", map[string]any{
		"domain": "example.com",
		"query":  map[string]string{"domain": "google.com", "relationship": "direct"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                 `json:"success"`
		Result  *models.SearchResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	require.NotNil(t, body.Result)
}

func TestStructuredSearchNoFile(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/structured-search", map[string]any{
		"domain": "missing.example.com",
		"query":  map[string]string{"domain": "google.com"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "no app-ads.txt found")
}

func TestStructuredSearchRejectsEmptyQuery(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/structured-search", map[string]any{
		"domain": "example.com",
		"query":  map[string]string{},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamExtractMultiple(t *testing.T) {
	ts := newTestServer(t)

	ids := []string{"com.a", "com.b", "nodots"}
	resp := postJSON(t, ts.URL+"/api/stream/extract-multiple", map[string]any{"bundleIds": ids})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	raw, total, err := streamjson.Collect(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, raw, 3)

	seen := map[string]bool{}
	for _, msg := range raw {
		var res models.ExtractionResult
		require.NoError(t, json.Unmarshal(msg, &res))
		seen[res.BundleID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id], "missing %s in stream", id)
	}
}

func TestExportCSV(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/export-csv", map[string]any{"bundleIds": []string{"com.a", "com.b"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "bundleId,"))
}

func TestStreamExportCSV(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/stream/export-csv", map[string]any{"bundleIds": []string{"com.a"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# totalProcessed=1")
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool           `json:"success"`
		Stats   map[string]any `json:"stats"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Contains(t, body.Stats, "cache")
	assert.Contains(t, body.Stats, "workers")
}

func TestClampPageSize(t *testing.T) {
	s := &Server{cfg: testConfig()}
	assert.Equal(t, 20, s.clampPageSize(0))
	assert.Equal(t, 5, s.clampPageSize(1))
	assert.Equal(t, 25, s.clampPageSize(25))
	assert.Equal(t, 50, s.clampPageSize(500))
}
