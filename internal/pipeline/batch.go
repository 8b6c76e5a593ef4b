package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
)

// Resolver resolves a single bundle. Satisfied by *Orchestrator; narrowed to
// an interface so batch tests can stub the pipeline.
type Resolver interface {
	Resolve(ctx context.Context, bundleID string, terms []models.SearchTerm) models.ExtractionResult
}

// batchGCHeapBytes is the heap size past which a finished batch triggers a GC.
const batchGCHeapBytes = 512 << 20

// BatchConfig holds the batch processor tunables.
type BatchConfig struct {
	MaxBundleIDs int
	Concurrency  int
}

// Batch fans a list of bundle IDs out over the resolver with bounded
// concurrency and aggregates cross-bundle statistics.
type Batch struct {
	resolver Resolver
	cache    *cache.Cache
	cfg      BatchConfig
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
}

// NewBatch constructs a batch processor. cache may be nil to disable batch
// result caching.
func NewBatch(resolver Resolver, c *cache.Cache, cfg BatchConfig, logger *zap.Logger, metrics observability.MetricsRegistry) *Batch {
	if cfg.MaxBundleIDs <= 0 {
		cfg.MaxBundleIDs = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Batch{resolver: resolver, cache: c, cfg: cfg, logger: logger, metrics: metrics}
}

// Prepare trims, drops empties and dedupes the input list, preserving first
// occurrence order. overCap reports a cleaned list larger than the configured
// maximum; such batches are rejected at the boundary, never truncated.
func (b *Batch) Prepare(ids []string) (cleaned []string, overCap bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	return cleaned, len(cleaned) > b.cfg.MaxBundleIDs
}

// MaxBundleIDs returns the per-request id cap.
func (b *Batch) MaxBundleIDs() int { return b.cfg.MaxBundleIDs }

// batchKey derives a stable cache key from the id set and terms. Order of the
// input list does not change the key.
func batchKey(ids []string, terms []models.SearchTerm) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	h := sha1.New()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte(models.TermsKey(terms)))
	return "batch:" + hex.EncodeToString(h.Sum(nil))
}

// ResolveAll processes the prepared id list and returns results in input
// order. A recent identical batch is served from the cache.
func (b *Batch) ResolveAll(ctx context.Context, ids []string, terms []models.SearchTerm) *models.BatchResult {
	b.metrics.ObserveBatchSize(len(ids))

	key := batchKey(ids, terms)
	if b.cache != nil {
		if res, ok := cache.GetJSON[*models.BatchResult](ctx, b.cache, key); ok && res != nil {
			return res
		}
	}

	results := make([]models.ExtractionResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = b.resolver.Resolve(gctx, id, terms)
			return nil
		})
	}
	_ = g.Wait()

	batch := b.aggregate(results, terms)
	if b.cache != nil && ctx.Err() == nil {
		cache.SetJSON(ctx, b.cache, key, batch, cache.TTLBatchResult)
	}
	b.relieveMemory()
	return batch
}

// relieveMemory nudges the collector after a batch when the heap has grown past
// the pressure threshold, so back-to-back large batches do not stack.
func (b *Batch) relieveMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc < batchGCHeapBytes {
		return
	}
	b.logger.Debug("heap pressure after batch, forcing GC",
		zap.Uint64("heap_alloc", ms.HeapAlloc))
	runtime.GC()
}

// ResolveStream processes the id list with the same bounds but delivers each
// result as it completes. The channel closes once every id is done.
func (b *Batch) ResolveStream(ctx context.Context, ids []string, terms []models.SearchTerm) <-chan models.ExtractionResult {
	b.metrics.ObserveBatchSize(len(ids))

	out := make(chan models.ExtractionResult)
	go func() {
		defer close(out)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.cfg.Concurrency)
		for _, id := range ids {
			g.Go(func() error {
				res := b.resolver.Resolve(gctx, id, terms)
				select {
				case out <- res:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// aggregate computes the batch counters, per-term statistics and cross-bundle
// domain analysis.
func (b *Batch) aggregate(results []models.ExtractionResult, terms []models.SearchTerm) *models.BatchResult {
	batch := &models.BatchResult{Results: results}

	var cacheHits int
	domains := make(map[string][]string)
	var relationships models.RelationshipCounts

	termStats := make(map[string]*models.TermStat)
	var termOrder []string
	for _, t := range terms {
		label := t.Label()
		if _, ok := termStats[label]; !ok {
			termStats[label] = &models.TermStat{Term: label}
			termOrder = append(termOrder, label)
		}
	}

	for _, r := range results {
		batch.Counts.TotalProcessed++
		switch {
		case r.Success:
			batch.Counts.Success++
		case r.StoreKind == models.StoreUnknown:
			// Rejected before any network work: invalid or unrecognised id.
			batch.Counts.Skipped++
		default:
			batch.Counts.Error++
		}
		if r.CacheHit {
			cacheHits++
		}

		if r.Domain != "" {
			domains[r.Domain] = append(domains[r.Domain], r.BundleID)
		}

		if r.AppAdsTxt == nil {
			continue
		}
		if r.AppAdsTxt.Exists {
			batch.Counts.AppAdsFound++
		}
		if a := r.AppAdsTxt.Analyzed; a != nil {
			relationships.Direct += a.Relationships.Direct
			relationships.Reseller += a.Relationships.Reseller
			relationships.Other += a.Relationships.Other
		}
		if s := r.AppAdsTxt.Search; s != nil {
			for _, tr := range s.PerTerm {
				stat, ok := termStats[tr.Term]
				if !ok {
					continue
				}
				stat.BundlesTotal++
				stat.TotalMatches += tr.Count
				if tr.Count > 0 {
					stat.BundlesWith++
				}
			}
		}
	}

	if len(results) > 0 {
		batch.CacheHitRate = float64(cacheHits) / float64(len(results))
	}

	for _, label := range termOrder {
		batch.SearchStats = append(batch.SearchStats, *termStats[label])
	}

	if len(domains) > 0 {
		analysis := &models.DomainAnalysis{
			Relationships: relationships,
			UniqueDomains: len(domains),
		}
		var shared []string
		for domain, bundles := range domains {
			if len(bundles) > 1 {
				shared = append(shared, domain)
			}
		}
		sort.Strings(shared)
		for _, domain := range shared {
			analysis.SharedDomains = append(analysis.SharedDomains, models.SharedDomain{
				Domain:    domain,
				BundleIDs: domains[domain],
			})
		}
		batch.DomainAnalysis = analysis
	}

	return batch
}
