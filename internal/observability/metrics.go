package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adscan_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// outbound fetches per target (store kind or app-ads-txt) and status class
	OutboundFetchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_outbound_fetches_total",
			Help: "Total outbound HTTP fetches",
		},
		[]string{"target", "status"},
	)

	// outbound retry attempts per target
	OutboundRetryCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_outbound_retries_total",
			Help: "Total outbound HTTP retry attempts",
		},
		[]string{"target"},
	)

	// cache hits and misses per tier
	CacheHitCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_cache_hits_total",
			Help: "Total cache hits per tier",
		},
		[]string{"tier"},
	)

	CacheMissCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_cache_misses_total",
			Help: "Total cache misses per tier",
		},
		[]string{"tier"},
	)

	CacheEvictionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_cache_evictions_total",
			Help: "Total cache evictions per tier",
		},
		[]string{"tier"},
	)

	// rate limiter acquisitions that had to wait for a window roll
	RateLimitWaitCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_ratelimit_waits_total",
			Help: "Total rate limit acquisitions that blocked",
		},
		[]string{"resource"},
	)

	// rate limiter adaptive throttle events (429/403 feedback)
	RateLimitThrottleCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_ratelimit_throttles_total",
			Help: "Total adaptive throttle events per resource",
		},
		[]string{"resource"},
	)

	// worker pool task outcomes
	WorkerTaskCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscan_worker_tasks_total",
			Help: "Total worker pool tasks by outcome",
		},
		[]string{"outcome"},
	)

	// pending tasks in the worker pool queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adscan_worker_queue_depth",
			Help: "Current worker pool queue depth",
		},
	)

	// heartbeat comments written to streaming responses
	StreamHeartbeatCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adscan_stream_heartbeats_total",
			Help: "Total heartbeats emitted on streaming responses",
		},
	)

	// distribution of batch sizes after deduplication
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adscan_batch_size",
			Help:    "Histogram of deduplicated batch sizes",
			Buckets: prometheus.LinearBuckets(0, 20, 11),
		},
	)

	// bytes analysed per app-ads.txt file
	AppAdsBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adscan_appads_bytes",
			Help:    "Histogram of app-ads.txt sizes analysed",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		OutboundFetchCount,
		OutboundRetryCount,
		CacheHitCount,
		CacheMissCount,
		CacheEvictionCount,
		RateLimitWaitCount,
		RateLimitThrottleCount,
		WorkerTaskCount,
		WorkerQueueDepth,
		StreamHeartbeatCount,
		BatchSize,
		AppAdsBytes,
	)
}
