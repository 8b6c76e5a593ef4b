package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Outbound fetch metrics
	IncrementOutboundFetch(target, status string)
	IncrementOutboundRetry(target string)

	// Cache metrics
	IncrementCacheHit(tier string)
	IncrementCacheMiss(tier string)
	IncrementCacheEviction(tier string)

	// Rate limiting metrics
	IncrementRateLimitWait(resource string)
	IncrementRateLimitThrottle(resource string)

	// Worker pool metrics
	IncrementWorkerTask(outcome string)
	SetWorkerQueueDepth(depth int)

	// Streaming metrics
	IncrementStreamHeartbeat()

	// Batch metrics
	ObserveBatchSize(size int)
	ObserveAppAdsBytes(n int64)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementOutboundFetch(target, status string) {
	OutboundFetchCount.WithLabelValues(target, status).Inc()
}

func (r *PrometheusRegistry) IncrementOutboundRetry(target string) {
	OutboundRetryCount.WithLabelValues(target).Inc()
}

func (r *PrometheusRegistry) IncrementCacheHit(tier string) {
	CacheHitCount.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) IncrementCacheMiss(tier string) {
	CacheMissCount.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) IncrementCacheEviction(tier string) {
	CacheEvictionCount.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitWait(resource string) {
	RateLimitWaitCount.WithLabelValues(resource).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitThrottle(resource string) {
	RateLimitThrottleCount.WithLabelValues(resource).Inc()
}

func (r *PrometheusRegistry) IncrementWorkerTask(outcome string) {
	WorkerTaskCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) SetWorkerQueueDepth(depth int) {
	WorkerQueueDepth.Set(float64(depth))
}

func (r *PrometheusRegistry) IncrementStreamHeartbeat() {
	StreamHeartbeatCount.Inc()
}

func (r *PrometheusRegistry) ObserveBatchSize(size int) {
	BatchSize.Observe(float64(size))
}

func (r *PrometheusRegistry) ObserveAppAdsBytes(n int64) {
	AppAdsBytes.Observe(float64(n))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementOutboundFetch(target, status string)                         {}
func (r *NoOpRegistry) IncrementOutboundRetry(target string)                                 {}
func (r *NoOpRegistry) IncrementCacheHit(tier string)                                        {}
func (r *NoOpRegistry) IncrementCacheMiss(tier string)                                       {}
func (r *NoOpRegistry) IncrementCacheEviction(tier string)                                   {}
func (r *NoOpRegistry) IncrementRateLimitWait(resource string)                               {}
func (r *NoOpRegistry) IncrementRateLimitThrottle(resource string)                           {}
func (r *NoOpRegistry) IncrementWorkerTask(outcome string)                                   {}
func (r *NoOpRegistry) SetWorkerQueueDepth(depth int)                                        {}
func (r *NoOpRegistry) IncrementStreamHeartbeat()                                            {}
func (r *NoOpRegistry) ObserveBatchSize(size int)                                            {}
func (r *NoOpRegistry) ObserveAppAdsBytes(n int64)                                           {}
