package pipeline

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
)

// stubResolver serves canned results keyed by bundle id.
type stubResolver struct {
	results map[string]models.ExtractionResult
	calls   atomic.Int64
}

func (s *stubResolver) Resolve(ctx context.Context, bundleID string, terms []models.SearchTerm) models.ExtractionResult {
	s.calls.Add(1)
	if r, ok := s.results[bundleID]; ok {
		r.BundleID = bundleID
		return r
	}
	return models.ExtractionResult{BundleID: bundleID, StoreKind: models.StoreUnknown, Error: "unknown bundle id format"}
}

func newTestBatch(t *testing.T, resolver Resolver, c *cache.Cache, cfg BatchConfig) *Batch {
	t.Helper()
	return NewBatch(resolver, c, cfg, zaptest.NewLogger(t), observability.NewNoOpRegistry())
}

func TestPrepare(t *testing.T) {
	b := newTestBatch(t, &stubResolver{}, nil, BatchConfig{MaxBundleIDs: 3})

	// Over the cap: the cleaned list is returned whole and flagged, never cut.
	cleaned, overCap := b.Prepare([]string{" com.a ", "", "com.b", "com.a", "com.c", "com.d"})
	assert.Equal(t, []string{"com.a", "com.b", "com.c", "com.d"}, cleaned)
	assert.True(t, overCap)

	// Duplicates that collapse back under the cap are fine.
	cleaned, overCap = b.Prepare([]string{"com.a", "com.a", "com.b", "com.c", "com.a"})
	assert.Equal(t, []string{"com.a", "com.b", "com.c"}, cleaned)
	assert.False(t, overCap)

	cleaned, overCap = b.Prepare([]string{"com.a"})
	assert.Equal(t, []string{"com.a"}, cleaned)
	assert.False(t, overCap)
}

func TestResolveAllPreservesInputOrder(t *testing.T) {
	resolver := &stubResolver{results: map[string]models.ExtractionResult{
		"com.a": {StoreKind: models.StoreGooglePlay, Success: true, Domain: "a.com"},
		"com.b": {StoreKind: models.StoreGooglePlay, Success: true, Domain: "b.com"},
		"com.c": {StoreKind: models.StoreGooglePlay, Success: true, Domain: "c.com"},
	}}
	b := newTestBatch(t, resolver, nil, BatchConfig{Concurrency: 3})

	ids := []string{"com.c", "com.a", "com.b"}
	batch := b.ResolveAll(context.Background(), ids, nil)
	require.Len(t, batch.Results, 3)
	for i, id := range ids {
		assert.Equal(t, id, batch.Results[i].BundleID)
	}
}

func TestResolveAllCounts(t *testing.T) {
	found := &models.AppAdsReport{
		Exists: true,
		Analyzed: &models.AppAdsAnalysis{
			Relationships: models.RelationshipCounts{Direct: 3, Reseller: 2, Other: 1},
		},
	}
	resolver := &stubResolver{results: map[string]models.ExtractionResult{
		"com.ok":     {StoreKind: models.StoreGooglePlay, Success: true, Domain: "shared.com", AppAdsTxt: found, CacheHit: true},
		"com.also":   {StoreKind: models.StoreGooglePlay, Success: true, Domain: "shared.com"},
		"com.failed": {StoreKind: models.StoreGooglePlay, Error: "store page fetch failed"},
	}}
	b := newTestBatch(t, resolver, nil, BatchConfig{Concurrency: 2})

	batch := b.ResolveAll(context.Background(), []string{"com.ok", "com.also", "com.failed", "<bogus>"}, nil)

	assert.Equal(t, 4, batch.Counts.TotalProcessed)
	assert.Equal(t, 2, batch.Counts.Success)
	assert.Equal(t, 1, batch.Counts.Error)
	assert.Equal(t, 1, batch.Counts.Skipped)
	assert.Equal(t, 1, batch.Counts.AppAdsFound)
	assert.InDelta(t, 0.25, batch.CacheHitRate, 0.001)

	require.NotNil(t, batch.DomainAnalysis)
	assert.Equal(t, 1, batch.DomainAnalysis.UniqueDomains)
	assert.Equal(t, 3, batch.DomainAnalysis.Relationships.Direct)
	require.Len(t, batch.DomainAnalysis.SharedDomains, 1)
	assert.Equal(t, "shared.com", batch.DomainAnalysis.SharedDomains[0].Domain)
	assert.ElementsMatch(t, []string{"com.ok", "com.also"}, batch.DomainAnalysis.SharedDomains[0].BundleIDs)
}

func TestResolveAllTermStats(t *testing.T) {
	term := func(s string) models.SearchTerm {
		st, err := models.NewPlainTerm(s)
		require.NoError(t, err)
		return st
	}
	terms := []models.SearchTerm{term("google.com"), term("rubicon")}

	report := func(googleCount, rubiconCount int) *models.AppAdsReport {
		return &models.AppAdsReport{
			Exists: true,
			Search: &models.SearchResult{PerTerm: []models.TermResult{
				{Term: "google.com", Count: googleCount},
				{Term: "rubicon", Count: rubiconCount},
			}},
		}
	}
	resolver := &stubResolver{results: map[string]models.ExtractionResult{
		"com.a": {StoreKind: models.StoreGooglePlay, Success: true, AppAdsTxt: report(4, 0)},
		"com.b": {StoreKind: models.StoreGooglePlay, Success: true, AppAdsTxt: report(2, 1)},
	}}
	b := newTestBatch(t, resolver, nil, BatchConfig{})

	batch := b.ResolveAll(context.Background(), []string{"com.a", "com.b"}, terms)
	require.Len(t, batch.SearchStats, 2)

	google := batch.SearchStats[0]
	assert.Equal(t, "google.com", google.Term)
	assert.Equal(t, 6, google.TotalMatches)
	assert.Equal(t, 2, google.BundlesWith)
	assert.Equal(t, 2, google.BundlesTotal)

	rubicon := batch.SearchStats[1]
	assert.Equal(t, "rubicon", rubicon.Term)
	assert.Equal(t, 1, rubicon.TotalMatches)
	assert.Equal(t, 1, rubicon.BundlesWith)
}

func TestResolveAllCachesBatchResult(t *testing.T) {
	c, err := cache.New(cache.Options{MemoryEnabled: true, MaxItems: 10},
		zaptest.NewLogger(t), observability.NewNoOpRegistry())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	resolver := &stubResolver{results: map[string]models.ExtractionResult{
		"com.a": {StoreKind: models.StoreGooglePlay, Success: true},
	}}
	b := newTestBatch(t, resolver, c, BatchConfig{})
	ctx := context.Background()

	first := b.ResolveAll(ctx, []string{"com.a"}, nil)
	require.Equal(t, 1, first.Counts.Success)
	assert.Equal(t, int64(1), resolver.calls.Load())

	// The identical batch is served from cache without touching the resolver.
	second := b.ResolveAll(ctx, []string{"com.a"}, nil)
	require.Equal(t, 1, second.Counts.Success)
	assert.Equal(t, int64(1), resolver.calls.Load())

	// A different term set is a different batch.
	term, err := models.NewPlainTerm("google.com")
	require.NoError(t, err)
	b.ResolveAll(ctx, []string{"com.a"}, []models.SearchTerm{term})
	assert.Equal(t, int64(2), resolver.calls.Load())
}

func TestBatchKeyIgnoresInputOrder(t *testing.T) {
	a := batchKey([]string{"com.a", "com.b"}, nil)
	b := batchKey([]string{"com.b", "com.a"}, nil)
	c := batchKey([]string{"com.a", "com.c"}, nil)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestResolveStreamDeliversEveryResult(t *testing.T) {
	resolver := &stubResolver{results: map[string]models.ExtractionResult{
		"com.a": {StoreKind: models.StoreGooglePlay, Success: true},
		"com.b": {StoreKind: models.StoreGooglePlay, Success: true},
		"com.c": {StoreKind: models.StoreGooglePlay, Error: "boom"},
	}}
	b := newTestBatch(t, resolver, nil, BatchConfig{Concurrency: 2})

	seen := map[string]int{}
	for res := range b.ResolveStream(context.Background(), []string{"com.a", "com.b", "com.c"}, nil) {
		seen[res.BundleID]++
	}
	assert.Equal(t, map[string]int{"com.a": 1, "com.b": 1, "com.c": 1}, seen)
}

func TestResolveStreamStopsOnCancel(t *testing.T) {
	resolver := &stubResolver{}
	b := newTestBatch(t, resolver, nil, BatchConfig{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := b.ResolveStream(ctx, []string{"com.a", "com.b"}, nil)
	for range ch {
	}
	// The channel closed; no hang.
}
