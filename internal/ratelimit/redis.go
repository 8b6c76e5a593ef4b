package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCounter implements RemoteCounter on a shared Redis instance using
// INCR + PEXPIRE, the same pattern as the cache's remote tier. After a run of
// failures the counter reports errors immediately so the limiter degrades to
// its in-process windows; a successful probe re-enables it.
type RedisCounter struct {
	client        *redis.Client
	logger        *zap.Logger
	failures      atomic.Int32
	maxFailures   int32
	probeInterval time.Duration
	unhealthy     atomic.Bool
	stop          chan struct{}
}

// NewRedisCounter wraps the given client. The caller owns the client lifecycle.
func NewRedisCounter(client *redis.Client, logger *zap.Logger) *RedisCounter {
	c := &RedisCounter{
		client:        client,
		logger:        logger,
		maxFailures:   10,
		probeInterval: 30 * time.Second,
		stop:          make(chan struct{}),
	}
	go c.probeLoop()
	return c
}

// Incr atomically increments the window counter for key.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c.unhealthy.Load() {
		return 0, redis.ErrClosed
	}

	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		if c.failures.Add(1) >= c.maxFailures {
			if c.unhealthy.CompareAndSwap(false, true) {
				c.logger.Warn("remote rate counter marked unavailable", zap.Error(err))
			}
		}
		return 0, err
	}
	c.failures.Store(0)

	if val == 1 {
		c.client.PExpire(ctx, key, window)
	}
	return val, nil
}

func (c *RedisCounter) probeLoop() {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.unhealthy.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err == nil {
				c.failures.Store(0)
				c.unhealthy.Store(false)
				c.logger.Info("remote rate counter recovered")
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the health probe.
func (c *RedisCounter) Close() {
	close(c.stop)
}
