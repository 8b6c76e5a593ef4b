package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// remoteFailureThreshold is the run of consecutive errors after which the
// remote tier is marked unavailable.
const remoteFailureThreshold = 10

// remoteProbeInterval is how often an unavailable remote tier is re-probed.
const remoteProbeInterval = 30 * time.Second

var errRemoteUnavailable = errors.New("remote cache tier unavailable")

// remoteTier is the optional Redis-backed tier. When it accumulates enough
// consecutive failures it takes itself out of rotation; a background probe
// re-promotes it on the first successful ping.
type remoteTier struct {
	client *redis.Client
	logger *zap.Logger

	failures  atomic.Int32
	unhealthy atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once

	hits   atomic.Int64
	misses atomic.Int64
}

func newRemoteTier(client *redis.Client, logger *zap.Logger) *remoteTier {
	r := &remoteTier{
		client: client,
		logger: logger,
		stop:   make(chan struct{}),
	}
	go r.probeLoop()
	return r
}

func (r *remoteTier) available() bool {
	return !r.unhealthy.Load()
}

func (r *remoteTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	if !r.available() {
		return nil, false, errRemoteUnavailable
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.failures.Store(0)
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.recordFailure(err)
		return nil, false, err
	}
	r.failures.Store(0)
	r.hits.Add(1)
	return val, true, nil
}

func (r *remoteTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !r.available() {
		return errRemoteUnavailable
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.recordFailure(err)
		return err
	}
	r.failures.Store(0)
	return nil
}

func (r *remoteTier) delete(ctx context.Context, key string) {
	if !r.available() {
		return
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.recordFailure(err)
	}
}

func (r *remoteTier) recordFailure(err error) {
	if r.failures.Add(1) >= remoteFailureThreshold {
		if r.unhealthy.CompareAndSwap(false, true) {
			r.logger.Warn("remote cache tier marked unavailable", zap.Error(err))
		}
	}
}

func (r *remoteTier) probeLoop() {
	ticker := time.NewTicker(remoteProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if r.available() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := r.client.Ping(ctx).Err()
			cancel()
			if err == nil {
				r.failures.Store(0)
				r.unhealthy.Store(false)
				r.logger.Info("remote cache tier recovered")
			}
		case <-r.stop:
			return
		}
	}
}

func (r *remoteTier) close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *remoteTier) stats() TierStats {
	return TierStats{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Healthy: r.available(),
	}
}
