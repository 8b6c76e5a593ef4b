// Package ratelimit implements fixed-window rate limiting for outbound
// resources (store kinds and the app-ads.txt fetcher).
//
// Each resource key gets its own window, created lazily on first access.
// Acquire blocks until the current window has a free slot. Adaptive feedback
// halves a resource's effective rate after upstream 429/403 responses and
// restores it gradually after clean windows.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/observability"
)

// Config is the base allowance for one resource key.
type Config struct {
	Requests int           // slots per window
	Window   time.Duration // window length
}

// RemoteCounter backs windows with a shared atomic counter (Redis) so multiple
// instances observe one combined rate. Implementations must fail fast when the
// backing store is unhealthy.
type RemoteCounter interface {
	// Incr atomically increments the counter for key within the window and
	// returns the new value. The counter expires with the window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type window struct {
	mu          sync.Mutex
	base        int       // configured slots per window
	effective   int       // current slots after adaptation
	count       int       // local acquisitions in the current window
	start       time.Time // current window start
	sawError    bool      // upstream 429/403 seen this window
	cleanStreak int       // consecutive windows without upstream errors
}

// Limiter manages per-resource fixed windows.
type Limiter struct {
	mu       sync.RWMutex
	windows  map[string]*window
	configs  map[string]Config
	fallback Config
	remote   RemoteCounter
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Limiter. configs maps resource keys to their base
// allowance; keys without an entry use fallback. remote may be nil.
func New(configs map[string]Config, fallback Config, remote RemoteCounter, logger *zap.Logger, metrics observability.MetricsRegistry) *Limiter {
	if fallback.Requests <= 0 {
		fallback = Config{Requests: 10, Window: time.Second}
	}
	return &Limiter{
		windows:  make(map[string]*window),
		configs:  configs,
		fallback: fallback,
		remote:   remote,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) window(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; ok {
		return w
	}
	cfg, ok := l.configs[key]
	if !ok {
		cfg = l.fallback
	}
	w = &window{base: cfg.Requests, effective: cfg.Requests, start: l.now()}
	l.windows[key] = w
	return w
}

func (l *Limiter) windowLength(key string) time.Duration {
	if cfg, ok := l.configs[key]; ok && cfg.Window > 0 {
		return cfg.Window
	}
	return l.fallback.Window
}

// Acquire blocks until a request slot for key is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	w := l.window(key)
	length := l.windowLength(key)
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.mu.Lock()
		now := l.now()
		if now.Sub(w.start) >= length {
			w.roll(now, length)
		}

		if w.count < w.effective {
			// Remote counters see the combined rate across instances; a
			// remote failure silently degrades to the local count.
			if l.remote != nil {
				if total, err := l.remote.Incr(ctx, "ratelimit:"+key, length); err == nil && total > int64(w.effective) {
					wait := w.start.Add(length).Sub(now)
					w.mu.Unlock()
					waited = true
					l.metrics.IncrementRateLimitWait(key)
					if err := l.sleep(ctx, wait); err != nil {
						return err
					}
					continue
				}
			}
			w.count++
			w.mu.Unlock()
			if waited {
				l.logger.Debug("rate limit slot granted after wait", zap.String("resource", key))
			}
			return nil
		}

		wait := w.start.Add(length).Sub(now)
		w.mu.Unlock()

		if !waited {
			l.metrics.IncrementRateLimitWait(key)
			waited = true
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// roll starts a new window and applies pending adaptation. Callers hold w.mu.
func (w *window) roll(now time.Time, length time.Duration) {
	// Skip whole windows that elapsed while idle.
	elapsed := now.Sub(w.start)
	w.start = w.start.Add(elapsed - elapsed%length)
	w.count = 0

	if w.sawError {
		w.cleanStreak = 0
	} else {
		w.cleanStreak++
		if w.effective < w.base && w.cleanStreak >= 1 {
			step := w.base / 4
			if step < 1 {
				step = 1
			}
			w.effective += step
			if w.effective > w.base {
				w.effective = w.base
			}
		}
	}
	w.sawError = false
}

// ReportError feeds an upstream response code back into the limiter. 429 and
// 403 halve the effective rate for subsequent windows.
func (l *Limiter) ReportError(key string, status int) {
	if status != http.StatusTooManyRequests && status != http.StatusForbidden {
		return
	}
	w := l.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sawError = true
	w.cleanStreak = 0
	halved := w.effective / 2
	if halved < 1 {
		halved = 1
	}
	if halved < w.effective {
		w.effective = halved
		l.metrics.IncrementRateLimitThrottle(key)
		l.logger.Warn("halving outbound rate after upstream throttle",
			zap.String("resource", key),
			zap.Int("status", status),
			zap.Int("effective", w.effective))
	}
}

// ReportSuccess records a clean upstream response for key. Restoration happens
// on window roll; a success only has to leave the window unmarked.
func (l *Limiter) ReportSuccess(key string) {
	l.window(key)
}

// Stats is a snapshot of one resource's limiter state.
type Stats struct {
	Resource  string `json:"resource"`
	Base      int    `json:"base"`
	Effective int    `json:"effective"`
	InWindow  int    `json:"inWindow"`
}

// Snapshot returns the current state of all known resources.
func (l *Limiter) Snapshot() []Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Stats, 0, len(l.windows))
	for key, w := range l.windows {
		w.mu.Lock()
		out = append(out, Stats{Resource: key, Base: w.base, Effective: w.effective, InWindow: w.count})
		w.mu.Unlock()
	}
	return out
}

// String implements fmt.Stringer for log lines.
func (s Stats) String() string {
	return fmt.Sprintf("%s: %d/%d (base %d)", s.Resource, s.InWindow, s.Effective, s.Base)
}
