// Package pipeline composes the per-bundle resolution chain (store detection,
// developer URL extraction, app-ads.txt analysis) and the batch machinery on
// top of it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/stores"
)

// storeResolution is the cacheable part of a bundle's store lookup.
type storeResolution struct {
	DeveloperURL string              `json:"developerUrl"`
	Domain       string              `json:"domain"`
	StoreKind    models.StoreKind    `json:"storeKind"`
	StoreErrors  []models.StoreError `json:"storeErrors,omitempty"`
	Failed       bool                `json:"failed,omitempty"`
}

// DeveloperURLExtractor finds the developer website for a bundle on one store.
// Satisfied by *stores.Extractor.
type DeveloperURLExtractor interface {
	DeveloperURL(ctx context.Context, kind models.StoreKind, bundleID string) (string, error)
}

// AppAdsChecker fetches and analyses a domain's app-ads.txt. Satisfied by
// *appads.Checker.
type AppAdsChecker interface {
	Check(ctx context.Context, domain string, terms []models.SearchTerm) *models.AppAdsReport
}

// Orchestrator runs the full pipeline for one bundle ID. Concurrent requests
// for the same bundle and term set are collapsed into a single execution.
type Orchestrator struct {
	extractor DeveloperURLExtractor
	checker   AppAdsChecker
	cache     *cache.Cache
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	group     singleflight.Group
}

// NewOrchestrator wires the pipeline stages together. cache may be nil.
func NewOrchestrator(extractor DeveloperURLExtractor, checker AppAdsChecker, c *cache.Cache, logger *zap.Logger, metrics observability.MetricsRegistry) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		checker:   checker,
		cache:     c,
		logger:    logger,
		metrics:   metrics,
	}
}

// Resolve runs detect, extract, domain reduction and app-ads analysis for one
// bundle ID. It never returns an error: failures are folded into the result.
func (o *Orchestrator) Resolve(ctx context.Context, bundleID string, terms []models.SearchTerm) models.ExtractionResult {
	start := time.Now()
	termsKey := models.TermsKey(terms)

	result := models.ExtractionResult{
		BundleID:         bundleID,
		StoreKind:        models.StoreUnknown,
		Timestamp:        start.UTC(),
		ProcessingMethod: models.ProcessingNone,
		TermsKey:         termsKey,
	}

	id, err := models.ValidateBundleID(bundleID)
	if err != nil {
		result.Error = err.Error()
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result
	}
	result.BundleID = id

	kind := stores.Detect(id)
	result.StoreKind = kind
	if kind == models.StoreUnknown {
		result.Error = fmt.Sprintf("bundle id %q does not match any supported store format", id)
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result
	}

	flightKey := string(kind) + ":" + id + ":" + termsKey
	v, err, shared := o.group.Do(flightKey, func() (any, error) {
		return o.resolveOnce(ctx, kind, id, terms), nil
	})
	if err != nil {
		result.Error = err.Error()
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result
	}

	resolved := v.(models.ExtractionResult)
	resolved.BundleID = id
	resolved.Timestamp = start.UTC()
	resolved.TermsKey = termsKey
	if shared {
		resolved.CacheHit = true
	}
	resolved.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resolved
}

func (o *Orchestrator) resolveOnce(ctx context.Context, kind models.StoreKind, id string, terms []models.SearchTerm) models.ExtractionResult {
	result := models.ExtractionResult{
		StoreKind:        kind,
		ProcessingMethod: models.ProcessingNone,
	}

	res, cached := o.resolveStore(ctx, kind, id)
	result.CacheHit = cached
	result.StoreKind = res.StoreKind
	result.StoreErrors = res.StoreErrors

	if res.Failed {
		result.Error = "developer url could not be resolved on any store"
		return result
	}
	result.DeveloperURL = res.DeveloperURL
	result.Domain = res.Domain
	result.Success = true

	report := o.checker.Check(ctx, res.Domain, terms)
	result.AppAdsTxt = report
	result.ProcessingMethod = report.ProcessingMethod
	return result
}

// resolveStore finds the developer URL and registrable domain for the bundle,
// consulting the cache first and walking the fallback chain on failure.
func (o *Orchestrator) resolveStore(ctx context.Context, kind models.StoreKind, id string) (storeResolution, bool) {
	key := "store:" + string(kind) + "-" + id
	if o.cache != nil {
		if res, ok := cache.GetJSON[storeResolution](ctx, o.cache, key); ok {
			return res, true
		}
	}

	res := o.resolveStoreChain(ctx, kind, id)

	if o.cache != nil && ctx.Err() == nil {
		class := cache.TTLStoreSuccess
		if res.Failed {
			class = cache.TTLStoreError
		}
		cache.SetJSON(ctx, o.cache, key, res, class)
	}
	return res, false
}

func (o *Orchestrator) resolveStoreChain(ctx context.Context, kind models.StoreKind, id string) storeResolution {
	res := storeResolution{StoreKind: kind}

	chain := []models.StoreKind{kind}
	for _, fallback := range stores.FallbackOrder {
		if fallback != kind {
			chain = append(chain, fallback)
		}
	}

	for _, attempt := range chain {
		if ctx.Err() != nil {
			res.StoreErrors = append(res.StoreErrors, models.StoreError{
				StoreKind: attempt, Error: ctx.Err().Error(),
			})
			break
		}

		devURL, err := o.extractor.DeveloperURL(ctx, attempt, id)
		if err != nil {
			res.StoreErrors = append(res.StoreErrors, models.StoreError{
				StoreKind: attempt, Error: err.Error(),
			})
			continue
		}

		domain, err := stores.RegistrableDomain(devURL)
		if err != nil {
			res.StoreErrors = append(res.StoreErrors, models.StoreError{
				StoreKind: attempt, Error: err.Error(),
			})
			continue
		}

		res.StoreKind = attempt
		res.DeveloperURL = devURL
		res.Domain = domain
		// A fallback hit needs no error list; keep only what led up to it.
		if attempt == kind {
			res.StoreErrors = nil
		}
		return res
	}

	res.Failed = true
	o.logger.Debug("bundle failed on every store",
		zap.String("bundle_id", id),
		zap.Int("stores_tried", len(res.StoreErrors)))
	return res
}
