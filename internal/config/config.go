package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	Version      string

	// Redis backs the remote cache tier and the shared rate-limit counters.
	// Empty disables the remote tier entirely.
	RedisAddr string

	// Outbound HTTP client
	HTTPTimeout      time.Duration
	HTTPHeadTimeout  time.Duration
	HTTPMaxRetries   int
	HTTPRetryDelay   time.Duration
	HTTPMaxRedirects int
	HTTPMaxConns     int
	HTTPMaxBodyBytes int64
	HTTPStableUA     bool

	// Cache
	CacheDir             string
	CacheMaxItems        int
	CacheCleanupInterval time.Duration
	CacheDiskEnabled     bool
	CacheMemoryEnabled   bool

	// Worker pool
	WorkerMin         int
	WorkerMax         int
	WorkerIdleTimeout time.Duration
	WorkerTaskTimeout time.Duration
	WorkerMaxHeapMB   int
	WorkerQueueSize   int

	// App-ads.txt analysis
	SyncParseLimitBytes  int64
	StreamThresholdBytes int64
	ContentSampleBytes   int
	MaxSearchMatches     int
	MaxMatchesPerTerm    int

	// Batch processing
	MaxBundleIDs        int
	MaxBundleIDsCSV     int
	BatchConcurrency    int
	BatchConcurrencyCSV int
	MaxPageSize         int
	RequestTimeout      time.Duration

	// Streaming
	HeartbeatInterval time.Duration

	// Inbound API rate limiting
	APIRateLimit float64
	APIRateBurst int

	// Request boundary
	MaxRequestBodyBytes int64

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Graceful shutdown
	ShutdownGrace time.Duration
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8788")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 30*time.Second)
	// Streaming responses stay open for the lifetime of a batch, so the write
	// timeout defaults to unbounded and the per-request deadline governs instead.
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 0)
	cfg.ServiceName = getenv("SERVICE_NAME", "adscan")
	cfg.Version = getenv("SERVICE_VERSION", "1.0.0")
	cfg.RedisAddr = getenv("REDIS_ADDR", "")

	cfg.HTTPTimeout = envDuration("HTTP_TIMEOUT", 15*time.Second)
	cfg.HTTPHeadTimeout = envDuration("HTTP_HEAD_TIMEOUT", 5*time.Second)
	cfg.HTTPMaxRetries = envInt("HTTP_MAX_RETRIES", 3)
	cfg.HTTPRetryDelay = envDuration("HTTP_RETRY_DELAY", time.Second)
	cfg.HTTPMaxRedirects = envInt("HTTP_MAX_REDIRECTS", 5)
	cfg.HTTPMaxConns = envInt("HTTP_MAX_CONNS", 64)
	cfg.HTTPMaxBodyBytes = envInt64("HTTP_MAX_BODY_BYTES", 20<<20)
	cfg.HTTPStableUA = envBool("HTTP_STABLE_UA", false)

	cfg.CacheDir = getenv("CACHE_DIR", "cache")
	cfg.CacheMaxItems = envInt("CACHE_MAX_ITEMS", 1000)
	cfg.CacheCleanupInterval = envDuration("CACHE_CLEANUP_INTERVAL", time.Hour)
	cfg.CacheDiskEnabled = envBool("CACHE_DISK_ENABLED", true)
	cfg.CacheMemoryEnabled = envBool("CACHE_MEMORY_ENABLED", true)

	cfg.WorkerMin = envInt("WORKER_MIN", 1)
	cfg.WorkerMax = envInt("WORKER_MAX", 4)
	cfg.WorkerIdleTimeout = envDuration("WORKER_IDLE_TIMEOUT", 2*time.Minute)
	cfg.WorkerTaskTimeout = envDuration("WORKER_TASK_TIMEOUT", 60*time.Second)
	cfg.WorkerMaxHeapMB = envInt("WORKER_MAX_HEAP_MB", 512)
	cfg.WorkerQueueSize = envInt("WORKER_QUEUE_SIZE", 64)

	cfg.SyncParseLimitBytes = envInt64("SYNC_PARSE_LIMIT_BYTES", 100<<10)
	cfg.StreamThresholdBytes = envInt64("STREAM_THRESHOLD_BYTES", 1<<20)
	cfg.ContentSampleBytes = envInt("CONTENT_SAMPLE_BYTES", 100<<10)
	cfg.MaxSearchMatches = envInt("MAX_SEARCH_MATCHES", 1000)
	cfg.MaxMatchesPerTerm = envInt("MAX_MATCHES_PER_TERM", 1000)

	cfg.MaxBundleIDs = envInt("MAX_BUNDLE_IDS", 100)
	cfg.MaxBundleIDsCSV = envInt("MAX_BUNDLE_IDS_CSV", 200)
	cfg.BatchConcurrency = envInt("BATCH_CONCURRENCY", 4)
	cfg.BatchConcurrencyCSV = envInt("BATCH_CONCURRENCY_CSV", 6)
	cfg.MaxPageSize = envInt("MAX_PAGE_SIZE", 50)
	cfg.RequestTimeout = envDuration("REQUEST_TIMEOUT", 5*time.Minute)

	cfg.HeartbeatInterval = envDuration("HEARTBEAT_INTERVAL", time.Second)

	cfg.APIRateLimit = envFloat("API_RATE_LIMIT", 10)
	cfg.APIRateBurst = envInt("API_RATE_BURST", 20)

	cfg.MaxRequestBodyBytes = envInt64("MAX_REQUEST_BODY_BYTES", 1<<20)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getenv("OTLP_ENDPOINT", "localhost:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	cfg.ShutdownGrace = envDuration("SHUTDOWN_GRACE", 10*time.Second)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envInt64 parses a 64-bit integer environment variable. When unset or invalid, def is returned.
func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
