// Package workerpool provides a bounded pool for CPU-heavy parse work so large
// files never run on a request handler. Tasks carry a priority, a timeout and
// a heap guard; workers scale between a minimum and maximum and idle ones are
// torn down.
package workerpool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/observability"
)

var (
	// ErrWorkerTimeout is returned when a task overruns the task timeout.
	ErrWorkerTimeout = errors.New("worker task timed out")
	// ErrWorkerOOM is returned when the heap guard trips during a task.
	ErrWorkerOOM = errors.New("worker exceeded memory limit")
	// ErrPoolClosed is returned for submissions after shutdown began.
	ErrPoolClosed = errors.New("worker pool is shut down")
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is a unit of work. Implementations must honour ctx cancellation.
type Task func(ctx context.Context) (any, error)

// Result carries a task outcome.
type Result struct {
	Value any
	Err   error
}

// Config holds the pool tunables.
type Config struct {
	Min         int
	Max         int
	IdleTimeout time.Duration
	TaskTimeout time.Duration
	MaxHeapMB   int
	QueueSize   int
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		Min:         1,
		Max:         4,
		IdleTimeout: 2 * time.Minute,
		TaskTimeout: 60 * time.Second,
		MaxHeapMB:   512,
		QueueSize:   64,
	}
}

// Pool executes tasks on a bounded set of workers fed from a priority queue.
type Pool struct {
	cfg     Config
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu      sync.Mutex
	queue   priorityQueue
	seq     uint64
	workers int
	idle    int
	closed  bool

	notify chan struct{}
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs the pool and starts the minimum worker set.
func New(cfg Config, logger *zap.Logger, metrics observability.MetricsRegistry) *Pool {
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Max < 1 {
		cfg.Max = 1
	}
	if cfg.Min > cfg.Max {
		cfg.Min = cfg.Max
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		notify:  make(chan struct{}, cfg.QueueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}

	p.mu.Lock()
	for i := 0; i < cfg.Min; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()
	return p
}

// Submit queues a task. The returned channel receives exactly one Result.
// Queue-full and closed-pool conditions are delivered on the channel as well
// so callers have a single failure path.
func (p *Pool) Submit(task Task, priority Priority) <-chan Result {
	ch := make(chan Result, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		ch <- Result{Err: ErrPoolClosed}
		return ch
	}
	if p.queue.Len() >= p.cfg.QueueSize {
		p.mu.Unlock()
		p.metrics.IncrementWorkerTask("rejected")
		ch <- Result{Err: ErrQueueFull}
		return ch
	}

	p.seq++
	heap.Push(&p.queue, &item{task: task, priority: priority, seq: p.seq, result: ch})
	p.metrics.SetWorkerQueueDepth(p.queue.Len())
	if p.idle == 0 && p.workers < p.cfg.Max {
		p.spawnLocked()
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return ch
}

// spawnLocked starts a worker. Callers hold p.mu.
func (p *Pool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.worker()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.queue.Len() == 0 {
			if p.closed {
				p.workers--
				p.mu.Unlock()
				return
			}
			p.idle++
			p.mu.Unlock()

			shouldExit := false
			select {
			case <-p.notify:
			case <-time.After(p.cfg.IdleTimeout):
				shouldExit = true
			case <-p.baseCtx.Done():
				p.mu.Lock()
				p.idle--
				p.workers--
				p.mu.Unlock()
				return
			}

			p.mu.Lock()
			p.idle--
			if shouldExit && p.workers > p.cfg.Min && p.queue.Len() == 0 {
				p.workers--
				p.mu.Unlock()
				return
			}
		}

		it := heap.Pop(&p.queue).(*item)
		p.metrics.SetWorkerQueueDepth(p.queue.Len())
		p.mu.Unlock()

		if oom := p.run(it); oom {
			// A tripped heap guard terminates this worker; keep the floor.
			p.mu.Lock()
			p.workers--
			if !p.closed && p.workers < p.cfg.Min {
				p.spawnLocked()
			}
			p.mu.Unlock()
			return
		}
	}
}

// run executes one task with timeout and heap guarding. Returns true when the
// worker must terminate because the guard tripped.
func (p *Pool) run(it *item) (oom bool) {
	taskCtx, cancel := context.WithTimeout(p.baseCtx, p.cfg.TaskTimeout)
	guarded, cancelCause := context.WithCancelCause(taskCtx)
	defer cancel()
	defer cancelCause(nil)

	guardStop := make(chan struct{})
	go p.memoryGuard(guarded, cancelCause, guardStop)

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		value, err := it.task(guarded)
		done <- Result{Value: value, Err: err}
	}()

	var res Result
	select {
	case res = <-done:
	case <-guarded.Done():
		switch {
		case errors.Is(context.Cause(guarded), ErrWorkerOOM):
			res = Result{Err: ErrWorkerOOM}
			oom = true
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			res = Result{Err: ErrWorkerTimeout}
		default:
			res = Result{Err: guarded.Err()}
		}
	}
	close(guardStop)

	switch {
	case res.Err == nil:
		p.metrics.IncrementWorkerTask("ok")
	case errors.Is(res.Err, ErrWorkerTimeout):
		p.metrics.IncrementWorkerTask("timeout")
		p.logger.Warn("worker task timed out", zap.Duration("limit", p.cfg.TaskTimeout))
	case errors.Is(res.Err, ErrWorkerOOM):
		p.metrics.IncrementWorkerTask("oom")
		p.logger.Error("worker terminated by heap guard",
			zap.Int("max_heap_mb", p.cfg.MaxHeapMB))
	default:
		p.metrics.IncrementWorkerTask("error")
	}

	it.result <- res
	return oom
}

// memoryGuard samples the heap during a task and cancels it when the cap is
// exceeded.
func (p *Pool) memoryGuard(ctx context.Context, cancelCause context.CancelCauseFunc, stop <-chan struct{}) {
	if p.cfg.MaxHeapMB <= 0 {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if ms.HeapAlloc > uint64(p.cfg.MaxHeapMB)<<20 {
				cancelCause(ErrWorkerOOM)
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Queued  int `json:"queued"`
	Max     int `json:"max"`
}

// Stats reports the current pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Workers: p.workers, Idle: p.idle, Queued: p.queue.Len(), Max: p.cfg.Max}
}

// Shutdown stops accepting work, drains in-flight and queued tasks until ctx
// expires, then cancels whatever remains.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	// Wake every idle worker so it observes the closed flag.
	for i := 0; i < p.cfg.Max; i++ {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()

	// Fail whatever never got picked up.
	p.mu.Lock()
	for p.queue.Len() > 0 {
		it := heap.Pop(&p.queue).(*item)
		it.result <- Result{Err: ErrPoolClosed}
	}
	p.metrics.SetWorkerQueueDepth(0)
	p.mu.Unlock()
}
