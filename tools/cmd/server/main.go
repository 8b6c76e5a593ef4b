package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/api"
	"github.com/patrickwarner/adscan/internal/appads"
	"github.com/patrickwarner/adscan/internal/cache"
	"github.com/patrickwarner/adscan/internal/config"
	"github.com/patrickwarner/adscan/internal/httpclient"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/pipeline"
	"github.com/patrickwarner/adscan/internal/ratelimit"
	"github.com/patrickwarner/adscan/internal/stores"
	"github.com/patrickwarner/adscan/internal/workerpool"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.Version, cfg.OTLPEndpoint, cfg.TracingSampleRate)
		if err != nil {
			logger.Warn("tracing init failed, continuing without", zap.Error(err))
		} else {
			defer shutdown()
		}
	}

	metrics := observability.NewPrometheusRegistry()

	var redisClient *redis.Client
	var remoteCounter ratelimit.RemoteCounter
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if cfg.TracingEnabled {
			if err := redisotel.InstrumentTracing(redisClient); err != nil {
				logger.Warn("redis tracing instrumentation", zap.Error(err))
			}
		}
		counter := ratelimit.NewRedisCounter(redisClient, logger)
		defer counter.Close()
		remoteCounter = counter
	}

	store, err := cache.New(cache.Options{
		MemoryEnabled:   cfg.CacheMemoryEnabled,
		MaxItems:        cfg.CacheMaxItems,
		DiskEnabled:     cfg.CacheDiskEnabled,
		Dir:             cfg.CacheDir,
		RedisClient:     redisClient,
		CleanupInterval: cfg.CacheCleanupInterval,
	}, logger, metrics)
	if err != nil {
		logger.Fatal("cache init", zap.Error(err))
	}
	defer store.Close()

	registry := stores.NewRegistry()
	limits := registry.RateLimits()
	limits["app-ads-txt"] = ratelimit.Config{Requests: 60, Window: time.Minute}
	limiter := ratelimit.New(limits, ratelimit.Config{Requests: 20, Window: time.Minute}, remoteCounter, logger, metrics)

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

	batch := pipeline.NewBatch(orchestrator, store, pipeline.BatchConfig{
		MaxBundleIDs: cfg.MaxBundleIDs,
		Concurrency:  cfg.BatchConcurrency,
	}, logger, metrics)
	csvBatch := pipeline.NewBatch(orchestrator, store, pipeline.BatchConfig{
		MaxBundleIDs: cfg.MaxBundleIDsCSV,
		Concurrency:  cfg.BatchConcurrencyCSV,
	}, logger, metrics)

	server := api.NewServer(cfg, api.Deps{
		Resolver: orchestrator,
		Batch:    batch,
		CSVBatch: csvBatch,
		Checker:  checker,
		Cache:    store,
		Pool:     pool,
		Limiter:  limiter,
	}, logger, metrics)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr), zap.String("version", cfg.Version))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownGrace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	pool.Shutdown(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("shutdown complete")
}
