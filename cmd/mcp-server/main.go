package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/appads"
	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/config"
	"github.com/patrickwarner/adscan/internal/httpclient"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/pipeline"
	"github.com/patrickwarner/adscan/internal/ratelimit"
	"github.com/patrickwarner/adscan/internal/stores"
	"github.com/patrickwarner/adscan/internal/workerpool"
)

type ExtractBundleInput struct {
	BundleID    string   `json:"bundle_id"`
	SearchTerms []string `json:"search_terms,omitempty"`
}

type ExtractBundleOutput struct {
	Result models.ExtractionResult `json:"result"`
}

type CheckAppAdsInput struct {
	Domain      string   `json:"domain"`
	SearchTerms []string `json:"search_terms,omitempty"`
}

type CheckAppAdsOutput struct {
	Result *models.AppAdsReport `json:"result"`
}

// ScanServer holds the resolver pipeline exposed over MCP.
type ScanServer struct {
	orchestrator *pipeline.Orchestrator
	checker      *appads.Checker
	logger       *zap.Logger
}

func plainTerms(raw []string) ([]models.SearchTerm, error) {
	var out []models.SearchTerm
	for _, s := range raw {
		term, err := models.NewPlainTerm(s)
		if err != nil {
			return nil, err
		}
		out = append(out, term)
	}
	return out, nil
}

// ExtractBundle resolves one bundle ID through the full pipeline.
func (s *ScanServer) ExtractBundle(ctx context.Context, req *mcp.CallToolRequest, input ExtractBundleInput) (*mcp.CallToolResult, ExtractBundleOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	terms, err := plainTerms(input.SearchTerms)
	if err != nil {
		return nil, ExtractBundleOutput{}, fmt.Errorf("invalid search terms: %w", err)
	}

	s.logger.Info("extracting bundle", zap.String("bundle_id", input.BundleID))
	result := s.orchestrator.Resolve(ctx, input.BundleID, terms)
	return nil, ExtractBundleOutput{Result: result}, nil
}

// CheckAppAds checks a domain's app-ads.txt directly.
func (s *ScanServer) CheckAppAds(ctx context.Context, req *mcp.CallToolRequest, input CheckAppAdsInput) (*mcp.CallToolResult, CheckAppAdsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	domain, err := stores.NormalizeDomain(input.Domain)
	if err != nil {
		return nil, CheckAppAdsOutput{}, err
	}
	terms, err := plainTerms(input.SearchTerms)
	if err != nil {
		return nil, CheckAppAdsOutput{}, fmt.Errorf("invalid search terms: %w", err)
	}

	s.logger.Info("checking app-ads.txt", zap.String("domain", domain))
	report := s.checker.Check(ctx, domain, terms)
	return nil, CheckAppAdsOutput{Result: report}, nil
}

func main() {
	// Log to stderr only; stdout carries the MCP stdio transport.
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.LevelKey = "level"
	zapCfg.EncoderConfig.NameKey = "logger"
	zapCfg.EncoderConfig.CallerKey = "caller"
	zapCfg.EncoderConfig.MessageKey = "msg"
	zapCfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("adscan-mcp").With(zap.String("service", "adscan-mcp"))
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	metrics := observability.NewNoOpRegistry()

	store, err := cache.New(cache.Options{
		MemoryEnabled:   true,
		MaxItems:        cfg.CacheMaxItems,
		DiskEnabled:     cfg.CacheDiskEnabled,
		Dir:             cfg.CacheDir,
		CleanupInterval: cfg.CacheCleanupInterval,
	}, logger, metrics)
	if err != nil {
		logger.Fatal("cache init", zap.Error(err))
	}
	defer store.Close()

	registry := stores.NewRegistry()
	limits := registry.RateLimits()
	limits["app-ads-txt"] = ratelimit.Config{Requests: 60, Window: time.Minute}
	limiter := ratelimit.New(limits, ratelimit.Config{Requests: 20, Window: time.Minute}, nil, logger, metrics)

	client := httpclient.New(httpclient.Config{
		Timeout:      cfg.HTTPTimeout,
		HeadTimeout:  cfg.HTTPHeadTimeout,
		MaxRetries:   cfg.HTTPMaxRetries,
		RetryDelay:   cfg.HTTPRetryDelay,
		MaxRedirects: cfg.HTTPMaxRedirects,
		MaxConns:     cfg.HTTPMaxConns,
		MaxBodyBytes: cfg.HTTPMaxBodyBytes,
		StableUA:     cfg.HTTPStableUA,
	}, logger, metrics)

	pool := workerpool.New(workerpool.Config{
		Min:         cfg.WorkerMin,
		Max:         cfg.WorkerMax,
		IdleTimeout: cfg.WorkerIdleTimeout,
		TaskTimeout: cfg.WorkerTaskTimeout,
		MaxHeapMB:   cfg.WorkerMaxHeapMB,
		QueueSize:   cfg.WorkerQueueSize,
	}, logger, metrics)
	defer pool.Shutdown(context.Background())

	checker := appads.New(appads.Config{
		SyncParseLimitBytes:  cfg.SyncParseLimitBytes,
		StreamThresholdBytes: cfg.StreamThresholdBytes,
		ContentSampleBytes:   cfg.ContentSampleBytes,
		MaxSearchMatches:     cfg.MaxSearchMatches,
		MaxPerTermMatches:    cfg.MaxMatchesPerTerm,
		PressureHeapMB:       cfg.WorkerMaxHeapMB,
		WorkerPriority:       workerpool.PriorityNormal,
	}, client, limiter, pool, store, logger, metrics)

	extractor := stores.NewExtractor(registry, client, limiter, logger)
	orchestrator := pipeline.NewOrchestrator(extractor, checker, store, logger, metrics)

	scanServer := &ScanServer{orchestrator: orchestrator, checker: checker, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adscan",
		Version: cfg.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_bundle",
		Description: "Resolve a mobile app bundle ID to its developer domain and analyse the domain's app-ads.txt",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"bundle_id": map[string]interface{}{
					"type":        "string",
					"description": "Bundle identifier (Android package, iTunes ID, ASIN, Roku channel or Samsung G-id)",
				},
				"search_terms": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional substrings to search for in the app-ads.txt",
				},
			},
			"required": []string{"bundle_id"},
		},
	}, scanServer.ExtractBundle)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_app_ads",
		Description: "Fetch and analyse the app-ads.txt of a domain directly, skipping store resolution",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"domain": map[string]interface{}{
					"type":        "string",
					"description": "Registrable domain, e.g. example.com",
				},
				"search_terms": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional substrings to search for in the app-ads.txt",
				},
			},
			"required": []string{"domain"},
		},
	}, scanServer.CheckAppAds)

	logger.Info("MCP server running via stdio")
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
