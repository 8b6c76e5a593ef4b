package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/httpclient"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/ratelimit"
)

// ErrStoreNotSupported is returned for kinds absent from the registry.
var ErrStoreNotSupported = errors.New("store not supported")

// ErrDeveloperURLNotFound is returned when a store page yields no usable
// developer website.
var ErrDeveloperURLNotFound = errors.New("developer url not found on store page")

// Extractor fetches store pages and pulls the developer website out of them.
type Extractor struct {
	registry *Registry
	client   *httpclient.Client
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

// NewExtractor constructs an Extractor over the given registry.
func NewExtractor(registry *Registry, client *httpclient.Client, limiter *ratelimit.Limiter, logger *zap.Logger) *Extractor {
	return &Extractor{registry: registry, client: client, limiter: limiter, logger: logger}
}

// DeveloperURL resolves the developer website for a bundle ID on one store.
// The regex patterns run first, cheapest to try; DOM selectors are the
// fallback for markup the patterns miss.
func (e *Extractor) DeveloperURL(ctx context.Context, kind models.StoreKind, bundleID string) (string, error) {
	cfg, ok := e.registry.Get(kind)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrStoreNotSupported, kind)
	}

	if err := e.limiter.Acquire(ctx, string(kind)); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	pageURL := cfg.URL(bundleID)
	resp, err := e.client.FetchText(ctx, pageURL, httpclient.Options{Target: string(kind)})
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			e.limiter.ReportError(string(kind), statusErr.Code)
		}
		return "", fmt.Errorf("fetch store page: %w", err)
	}
	e.limiter.ReportSuccess(string(kind))

	for _, pattern := range cfg.Patterns {
		if m := pattern.FindStringSubmatch(resp.Body); len(m) > 1 {
			if url := cleanExtractedURL(m[1]); url != "" {
				return url, nil
			}
		}
	}

	if url := e.selectorFallback(cfg, resp.Body); url != "" {
		return url, nil
	}

	return "", ErrDeveloperURLNotFound
}

func (e *Extractor) selectorFallback(cfg StoreConfig, body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		e.logger.Debug("store page did not parse as HTML",
			zap.String("store", string(cfg.Kind)), zap.Error(err))
		return ""
	}

	for _, sel := range cfg.Selectors {
		var found string
		doc.Find(sel.Query).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw := ""
			if sel.Attr == "" {
				raw = s.Text()
			} else {
				raw, _ = s.Attr(sel.Attr)
			}
			if url := cleanExtractedURL(raw); url != "" {
				found = url
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// cleanExtractedURL normalises a candidate developer URL and drops values that
// cannot lead to a website: empty, relative, or JSON-escaped leftovers.
func cleanExtractedURL(raw string) string {
	url := strings.TrimSpace(raw)
	url = strings.ReplaceAll(url, `\/`, `/`)
	url = strings.ReplaceAll(url, "\\u0026", "&")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ""
	}
	return url
}
