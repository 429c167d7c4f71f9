// Package workerpool implements the elastic worker pool and
// auto-scaler: a set of worker goroutines pulling from the frontier,
// resized on a timer by queue pressure, that shrink gracefully by
// decrementing a pending-removal counter rather than by being killed
// mid-request.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// Frontier is the subset of frontier.Frontier the pool depends on.
type Frontier interface {
	TryPop() (*crawltypes.CrawlRequest, bool)
	Len() int
}

// ProcessFunc handles one request popped from the frontier. It must
// itself honor ctx cancellation and must not panic; panics are not
// recovered here.
type ProcessFunc func(ctx context.Context, req *crawltypes.CrawlRequest)

// Config carries the auto-scaler thresholds from
// config.PerformanceConfig.
type Config struct {
	InitialWorkers int
	MinWorkers     int
	MaxWorkers     int
	HighWatermark  int
	LowWatermark   int
	AdjustInterval time.Duration
}

// Pool owns a set of worker goroutines polling Frontier and a ticker
// that resizes the set by queue pressure.
type Pool struct {
	logger   *slog.Logger
	frontier Frontier
	process  ProcessFunc
	cfg      Config

	mu       sync.Mutex
	resumeCh chan struct{}
	paused   atomic.Bool

	workerCount     atomic.Int32
	pendingRemovals atomic.Int32

	wg sync.WaitGroup
}

// New builds a Pool. Workers are not started until Start is called.
func New(logger *slog.Logger, frontier Frontier, process ProcessFunc, cfg Config) *Pool {
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.InitialWorkers < cfg.MinWorkers {
		cfg.InitialWorkers = cfg.MinWorkers
	}
	if cfg.InitialWorkers > cfg.MaxWorkers {
		cfg.InitialWorkers = cfg.MaxWorkers
	}
	if cfg.AdjustInterval <= 0 {
		cfg.AdjustInterval = 5 * time.Second
	}
	return &Pool{
		logger:   logger.With("component", "workerpool"),
		frontier: frontier,
		process:  process,
		cfg:      cfg,
		resumeCh: make(chan struct{}),
	}
}

// Start launches the initial worker set and the auto-scaler ticker.
// It returns immediately; workers run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting worker pool", "initial_workers", p.cfg.InitialWorkers, "max_workers", p.cfg.MaxWorkers)
	for i := 0; i < p.cfg.InitialWorkers; i++ {
		p.spawnWorker(ctx)
	}
	go p.autoScaleLoop(ctx)
}

// Wait blocks until every worker goroutine has exited (ctx was
// cancelled and in-flight requests finished, or each worker claimed a
// pending removal). Closing the frontier alone does not stop workers.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// WorkerCount reports the number of currently running workers.
func (p *Pool) WorkerCount() int { return int(p.workerCount.Load()) }

// Pause suspends all workers at their next poll tick. Workers
// currently processing a request finish it first.
func (p *Pool) Pause() {
	p.paused.Store(true)
}

// Resume wakes every worker blocked in Pause. Re-calling Resume while
// already running is a harmless no-op: it just broadcasts on a fresh
// channel nobody is waiting on yet.
func (p *Pool) Resume() {
	p.paused.Store(false)
	p.mu.Lock()
	close(p.resumeCh)
	p.resumeCh = make(chan struct{})
	p.mu.Unlock()
}

func (p *Pool) resumeSignal() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeCh
}

func (p *Pool) spawnWorker(ctx context.Context) {
	p.workerCount.Add(1)
	p.wg.Add(1)
	go p.workerLoop(ctx)
}

// tryClaimRemoval atomically decrements pendingRemovals if positive,
// reporting whether this worker claimed a removal slot.
func (p *Pool) tryClaimRemoval() bool {
	for {
		v := p.pendingRemovals.Load()
		if v <= 0 {
			return false
		}
		if p.pendingRemovals.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// workerLoop polls the frontier until cancelled, honoring the pause
// signal and claiming a pending removal when it finds the queue empty.
func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	for {
		if ctx.Err() != nil {
			return
		}

		if p.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-p.resumeSignal():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		req, ok := p.frontier.TryPop()
		if !ok {
			if p.tryClaimRemoval() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		p.process(ctx, req)
	}
}

// autoScaleLoop resizes the worker set every AdjustInterval by queue
// pressure: grow past HighWatermark, shrink below LowWatermark,
// always clamped to [MinWorkers, MaxWorkers].
func (p *Pool) autoScaleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.AdjustInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.adjust(ctx)
		}
	}
}

func (p *Pool) adjust(ctx context.Context) {
	queueLen := p.frontier.Len()
	workers := int(p.workerCount.Load())

	switch {
	case queueLen > p.cfg.HighWatermark && workers < p.cfg.MaxWorkers:
		byLoad := queueLen / 10
		if byLoad < 1 {
			byLoad = 1
		}
		toAdd := p.cfg.MaxWorkers - workers
		if byLoad < toAdd {
			toAdd = byLoad
		}
		p.logger.Info("scaling up", "queue_len", queueLen, "workers", workers, "adding", toAdd)
		for i := 0; i < toAdd; i++ {
			p.spawnWorker(ctx)
		}
	case queueLen < p.cfg.LowWatermark && workers > p.cfg.MinWorkers:
		toRemove := 2
		// Removals scheduled on earlier ticks and not yet claimed still
		// count against MinWorkers.
		if remaining := workers - int(p.pendingRemovals.Load()) - p.cfg.MinWorkers; toRemove > remaining {
			toRemove = remaining
		}
		if toRemove > 0 {
			p.logger.Info("scaling down", "queue_len", queueLen, "workers", workers, "removing", toRemove)
			p.pendingRemovals.Add(int32(toRemove))
		}
	}
}
