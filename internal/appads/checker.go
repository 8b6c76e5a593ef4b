package appads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/httpclient"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/ratelimit"
	"github.com/patrickwarner/adscan/internal/workerpool"
)

// rateLimitKey is the outbound limiter resource shared by all app-ads.txt fetches.
const rateLimitKey = "app-ads-txt"

// Config holds the checker tunables.
type Config struct {
	SyncParseLimitBytes  int64
	StreamThresholdBytes int64
	ContentSampleBytes   int
	MaxSearchMatches     int
	MaxPerTermMatches    int
	PressureHeapMB       int
	WorkerPriority       workerpool.Priority
}

// DefaultConfig returns the checker defaults.
func DefaultConfig() Config {
	return Config{
		SyncParseLimitBytes:  100 << 10,
		StreamThresholdBytes: 1 << 20,
		ContentSampleBytes:   100 << 10,
		MaxSearchMatches:     1000,
		MaxPerTermMatches:    1000,
		PressureHeapMB:       512,
		WorkerPriority:       workerpool.PriorityNormal,
	}
}

// Checker resolves whether a domain publishes app-ads.txt and analyses it.
// Results are cached per domain and term set; the worker pool carries parse
// work for mid-sized files and files above the stream threshold are scanned
// without buffering the whole body.
type Checker struct {
	cfg     Config
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	pool    *workerpool.Pool
	cache   *cache.Cache
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	// candidateURLs is swappable in tests to point at a local server.
	candidateURLs func(domain string) []string
}

// New constructs a Checker. cache may be nil to disable result caching.
func New(cfg Config, client *httpclient.Client, limiter *ratelimit.Limiter, pool *workerpool.Pool, c *cache.Cache, logger *zap.Logger, metrics observability.MetricsRegistry) *Checker {
	return &Checker{
		cfg:           cfg,
		client:        client,
		limiter:       limiter,
		pool:          pool,
		cache:         c,
		logger:        logger,
		metrics:       metrics,
		candidateURLs: defaultCandidateURLs,
	}
}

// defaultCandidateURLs lists fetch attempts in order: TLS first, then plain.
func defaultCandidateURLs(domain string) []string {
	return []string{
		"https://" + domain + "/app-ads.txt",
		"http://" + domain + "/app-ads.txt",
	}
}

func cacheKey(domain string, terms []models.SearchTerm) string {
	if tk := models.TermsKey(terms); tk != "" {
		return "app-ads-txt:" + domain + ":" + tk
	}
	return "app-ads-txt:" + domain
}

// Check fetches and analyses the domain's app-ads.txt. A cached report for the
// same domain and term set is returned as-is.
func (c *Checker) Check(ctx context.Context, domain string, terms []models.SearchTerm) *models.AppAdsReport {
	key := cacheKey(domain, terms)
	if c.cache != nil {
		if report, ok := cache.GetJSON[*models.AppAdsReport](ctx, c.cache, key); ok && report != nil {
			return report
		}
	}

	report := c.check(ctx, domain, terms)

	if c.cache != nil && ctx.Err() == nil {
		class := cache.TTLAppAdsTxtError
		switch {
		case report.Exists:
			class = cache.TTLAppAdsTxtFound
		case report.Error == "":
			class = cache.TTLAppAdsTxtMissing
		}
		cache.SetJSON(ctx, c.cache, key, report, class)
	}
	return report
}

func (c *Checker) check(ctx context.Context, domain string, terms []models.SearchTerm) *models.AppAdsReport {
	report := &models.AppAdsReport{ProcessingMethod: models.ProcessingNone}

	if err := c.limiter.Acquire(ctx, rateLimitKey); err != nil {
		report.Error = fmt.Sprintf("rate limiter: %v", err)
		return report
	}

	var notFound bool
	for _, url := range c.candidateURLs(domain) {
		done, err := c.tryURL(ctx, url, terms, report)
		if done {
			c.limiter.ReportSuccess(rateLimitKey)
			return report
		}
		if err != nil {
			var statusErr *httpclient.StatusError
			if errors.As(err, &statusErr) {
				c.limiter.ReportError(rateLimitKey, statusErr.Code)
				if statusErr.Code == 404 {
					notFound = true
				}
			}
			// Every failed attempt is recorded, 404s included; notFound only
			// decides how the report is classified below.
			report.FetchErrors = append(report.FetchErrors, fmt.Sprintf("%s: %v", url, err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	if notFound {
		// A clean 404 means the domain simply does not publish the file; the
		// attempts stay in fetchErrors but the report is not an error.
		report.Error = ""
	} else if len(report.FetchErrors) > 0 {
		report.Error = "failed to fetch app-ads.txt"
	}
	return report
}

// tryURL attempts one candidate URL. done=true means the report is complete
// (the file exists and was analysed); an error with done=false moves on to the
// next candidate.
func (c *Checker) tryURL(ctx context.Context, url string, terms []models.SearchTerm, report *models.AppAdsReport) (done bool, err error) {
	opts := httpclient.Options{Target: rateLimitKey, Accept: "text/plain,*/*;q=0.8"}

	// A HEAD probe decides the path before any body moves. Servers that
	// reject HEAD fall through to a plain GET.
	length := int64(-1)
	if head, headErr := c.client.Head(ctx, url, opts); headErr == nil {
		length = head.ContentLength
	}

	if length > c.cfg.StreamThresholdBytes {
		return c.streamURL(ctx, url, opts, terms, report)
	}

	resp, err := c.client.FetchText(ctx, url, opts)
	if err != nil {
		if errors.Is(err, httpclient.ErrResponseTooLarge) {
			// The declared length lied; scan it incrementally instead.
			return c.streamURL(ctx, url, opts, terms, report)
		}
		return false, err
	}

	if !looksLikeAppAds(resp.Header.Get("Content-Type"), resp.Body) {
		return false, fmt.Errorf("response is not an app-ads.txt document")
	}

	body := resp.Body
	report.Exists = true
	report.URL = resp.FinalURL
	report.ContentLength = int64(len(body))
	report.ContentSample = sampleOf(body, c.cfg.ContentSampleBytes)
	c.metrics.ObserveAppAdsBytes(int64(len(body)))

	if int64(len(body)) <= c.cfg.SyncParseLimitBytes {
		report.ProcessingMethod = models.ProcessingSync
		report.Analyzed = Analyze(body)
		report.Search = Search(body, terms, c.cfg.MaxSearchMatches, c.cfg.MaxPerTermMatches)
		return true, nil
	}

	c.analyzeOnWorker(ctx, body, terms, report)
	return true, nil
}

// analyzeOnWorker parses a mid-sized body on the pool, falling back to inline
// parsing when the pool cannot take the task.
func (c *Checker) analyzeOnWorker(ctx context.Context, body string, terms []models.SearchTerm, report *models.AppAdsReport) {
	type parsed struct {
		analysis *models.AppAdsAnalysis
		search   *models.SearchResult
	}

	resCh := c.pool.Submit(func(taskCtx context.Context) (any, error) {
		out := parsed{analysis: Analyze(body)}
		if taskCtx.Err() != nil {
			return nil, taskCtx.Err()
		}
		out.search = Search(body, terms, c.cfg.MaxSearchMatches, c.cfg.MaxPerTermMatches)
		return out, nil
	}, c.cfg.WorkerPriority)

	select {
	case res := <-resCh:
		switch {
		case res.Err == nil:
			out := res.Value.(parsed)
			report.ProcessingMethod = models.ProcessingWorker
			report.Analyzed = out.analysis
			report.Search = out.search
			return
		default:
			// Any pool failure, whether rejection, timeout or the heap guard,
			// degrades to the inline path; the request context is still live.
			c.logger.Warn("worker parse failed, parsing inline",
				zap.Int("bytes", len(body)), zap.Error(res.Err))
			report.ProcessingMethod = models.ProcessingSync
			report.Analyzed = Analyze(body)
			report.Search = Search(body, terms, c.cfg.MaxSearchMatches, c.cfg.MaxPerTermMatches)
			return
		}
	case <-ctx.Done():
		report.Analyzed = &models.AppAdsAnalysis{Error: ctx.Err().Error()}
	}
}

// streamURL analyses a large file incrementally.
func (c *Checker) streamURL(ctx context.Context, url string, opts httpclient.Options, terms []models.SearchTerm, report *models.AppAdsReport) (bool, error) {
	resp, body, err := c.client.FetchStream(ctx, url, opts)
	if err != nil {
		return false, err
	}
	defer func() { _ = body.Close() }()

	start := time.Now()
	outcome, err := AnalyzeStream(ctx, body, terms, StreamOptions{
		SampleBytes:    c.cfg.ContentSampleBytes,
		MaxMatches:     c.cfg.MaxSearchMatches,
		MaxPerTerm:     c.cfg.MaxPerTermMatches,
		PressureHeapMB: c.cfg.PressureHeapMB,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		// The fetch itself succeeded, so the file exists; an I/O failure
		// mid-scan yields a minimal analysis callers can still cache.
		report.Exists = true
		report.URL = resp.FinalURL
		report.ProcessingMethod = models.ProcessingStream
		report.Analyzed = &models.AppAdsAnalysis{Error: fmt.Sprintf("stream analysis: %v", err)}
		return true, nil
	}

	if !looksLikeAppAds(resp.Header.Get("Content-Type"), outcome.Sample) {
		return false, fmt.Errorf("response is not an app-ads.txt document")
	}

	report.Exists = true
	report.URL = resp.FinalURL
	report.ContentLength = outcome.BytesScanned
	report.ContentSample = outcome.Sample
	report.ProcessingMethod = models.ProcessingStream
	report.Analyzed = outcome.Analysis
	report.Search = outcome.Search
	c.metrics.ObserveAppAdsBytes(outcome.BytesScanned)

	c.logger.Debug("streamed app-ads.txt",
		zap.String("url", url),
		zap.Int64("bytes", outcome.BytesScanned),
		zap.Duration("took", time.Since(start)))
	return true, nil
}

// looksLikeAppAds rejects HTML error pages served with a 200 where a text file
// was expected.
func looksLikeAppAds(contentType, sample string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(sampleOf(sample, 512)))
	return !strings.HasPrefix(head, "<!doctype html") && !strings.HasPrefix(head, "<html")
}

func sampleOf(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
