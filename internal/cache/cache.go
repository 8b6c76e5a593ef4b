// Package cache implements the tiered result cache: an in-memory map, a
// one-file-per-key disk store and an optional Redis tier. Reads consult the
// tiers fastest-first and copy values found in a slower tier back into the
// faster ones; writes go to every enabled tier.
//
// Keys follow the shape <type>:<identifier>[:<extra>...], for example
// store:googleplay-com.example.app or app-ads-txt:example.com:termA-termB.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/observability"
)

// Options configures the tiered cache.
type Options struct {
	MemoryEnabled   bool
	MaxItems        int
	DiskEnabled     bool
	Dir             string
	RedisClient     *redis.Client // nil disables the remote tier
	CleanupInterval time.Duration
}

// Cache is the tiered store. Safe for concurrent use.
type Cache struct {
	memory  *memoryTier
	disk    *diskTier
	remote  *remoteTier
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time

	cleanupStop chan struct{}
}

// New constructs the cache and starts the periodic disk cleanup when the disk
// tier is enabled.
func New(opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) (*Cache, error) {
	c := &Cache{
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
		cleanupStop: make(chan struct{}),
	}

	if opts.MemoryEnabled {
		c.memory = newMemoryTier(opts.MaxItems)
	}
	if opts.DiskEnabled {
		disk, err := newDiskTier(opts.Dir, logger)
		if err != nil {
			return nil, err
		}
		c.disk = disk
	}
	if opts.RedisClient != nil {
		c.remote = newRemoteTier(opts.RedisClient, logger)
	}
	if c.memory == nil && c.disk == nil && c.remote == nil {
		return nil, fmt.Errorf("no cache tier enabled")
	}

	if c.disk != nil && opts.CleanupInterval > 0 {
		go c.cleanupLoop(opts.CleanupInterval)
	}
	return c, nil
}

// Get returns the raw value for key, or false when absent or expired in every tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.memory != nil {
		if val, ok := c.memory.get(key); ok {
			c.metrics.IncrementCacheHit("memory")
			return val, true
		}
		c.metrics.IncrementCacheMiss("memory")
	}

	if c.disk != nil {
		if val, expiry, ok := c.disk.get(key); ok {
			c.metrics.IncrementCacheHit("disk")
			if c.memory != nil {
				c.memory.set(key, val, expiry)
			}
			return val, true
		}
		c.metrics.IncrementCacheMiss("disk")
	}

	if c.remote != nil {
		val, ok, err := c.remote.get(ctx, key)
		if err == nil && ok {
			c.metrics.IncrementCacheHit("remote")
			// The remote tier does not expose the remaining TTL cheaply;
			// promoted copies get the default class so they age out locally.
			expiry := c.now().Add(TTLDefault.Duration())
			if c.memory != nil {
				c.memory.set(key, val, expiry)
			}
			if c.disk != nil {
				if err := c.disk.set(key, val, expiry); err != nil {
					c.logger.Warn("promote to disk tier", zap.String("key", key), zap.Error(err))
				}
			}
			return val, true
		}
		if err == nil {
			c.metrics.IncrementCacheMiss("remote")
		}
	}

	return nil, false
}

// Set writes the value to every enabled tier with the TTL of the given class.
func (c *Cache) Set(ctx context.Context, key string, value []byte, class TTLClass) {
	ttl := class.Duration()
	expiry := c.now().Add(ttl)

	if c.memory != nil {
		c.memory.set(key, value, expiry)
	}
	if c.disk != nil {
		if err := c.disk.set(key, value, expiry); err != nil {
			c.logger.Warn("disk cache write", zap.String("key", key), zap.Error(err))
		}
	}
	if c.remote != nil {
		if err := c.remote.set(ctx, key, value, ttl); err != nil && err != errRemoteUnavailable {
			c.logger.Debug("remote cache write", zap.String("key", key), zap.Error(err))
		}
	}
}

// Delete removes the key from every tier.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.memory != nil {
		c.memory.delete(key)
	}
	if c.disk != nil {
		c.disk.remove(key)
	}
	if c.remote != nil {
		c.remote.delete(ctx, key)
	}
}

// Clear empties the memory and disk tiers. The remote tier is shared across
// instances and is left untouched.
func (c *Cache) Clear() {
	if c.memory != nil {
		c.memory.clear()
	}
	if c.disk != nil {
		if err := c.disk.clear(); err != nil {
			c.logger.Warn("disk cache clear", zap.Error(err))
		}
	}
}

// Stats reports per-tier counters.
type Stats struct {
	Memory *TierStats `json:"memory,omitempty"`
	Disk   *TierStats `json:"disk,omitempty"`
	Remote *TierStats `json:"remote,omitempty"`
}

// Stats returns a snapshot of all enabled tiers.
func (c *Cache) Stats() Stats {
	var s Stats
	if c.memory != nil {
		t := c.memory.stats()
		s.Memory = &t
	}
	if c.disk != nil {
		t := c.disk.stats()
		s.Disk = &t
	}
	if c.remote != nil {
		t := c.remote.stats()
		s.Remote = &t
	}
	return s
}

// HitRate returns the overall fraction of reads served from any tier.
func (c *Cache) HitRate() float64 {
	s := c.Stats()
	var hits, total int64
	for _, t := range []*TierStats{s.Memory, s.Disk, s.Remote} {
		if t != nil {
			hits += t.Hits
			total += t.Hits + t.Misses
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Close stops background work. The Redis client itself belongs to the caller.
func (c *Cache) Close() {
	close(c.cleanupStop)
	if c.remote != nil {
		c.remote.close()
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := c.disk.cleanup()
			for i := 0; i < removed; i++ {
				c.metrics.IncrementCacheEviction("disk")
			}
		case <-c.cleanupStop:
			return
		}
	}
}

// GetJSON reads key and unmarshals it into a value of type T.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.Delete(ctx, key)
		return out, false
	}
	return out, true
}

// SetJSON marshals the value and writes it under key.
func SetJSON[T any](ctx context.Context, c *Cache, key string, value T, class TTLClass) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("marshal cache value", zap.String("key", key), zap.Error(err))
		return
	}
	c.Set(ctx, key, raw, class)
}
