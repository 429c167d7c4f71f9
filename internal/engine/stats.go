package engine

import (
	"runtime"
	"time"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// statisticsLoop is the periodic statistics writer: every configured
// interval (default 30s) it reads the frontier counters, updates the
// in-memory statistics, and persists them through the metadata store.
// Failures are logged and non-fatal.
func (e *Engine) statisticsLoop() {
	interval := time.Duration(e.cfg.Monitoring.MetricsIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.statsDone:
			return
		case <-ticker.C:
			snapshot := e.metrics.Snapshot()
			for _, s := range e.stores {
				if err := s.SaveStatistics(e.ctx, snapshot); err != nil {
					e.logger.Warn("periodic statistics persist failed", "plugin", s.Name(), "error", err)
				}
			}
			if e.metaStore == nil {
				continue
			}
			if err := e.metaStore.SaveCrawlState(e.ctx, e.buildCrawlState()); err != nil {
				e.logger.Warn("periodic crawl state persist failed", "error", err)
			}
		}
	}
}

// memoryWatchLoop enforces the soft memory cap: when heap usage
// crosses the configured limit the engine pauses itself, and resumes
// once usage falls back under 80% of the limit. Only pauses it
// initiated are undone, so an operator pause is never overridden.
func (e *Engine) memoryWatchLoop() {
	limit := uint64(e.cfg.Performance.MemoryLimitMB) << 20
	if limit == 0 {
		return
	}

	pausedByMemory := false
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.statsDone:
			return
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			switch {
			case !pausedByMemory && m.HeapAlloc > limit && e.CurrentState() == crawltypes.StatusRunning:
				e.logger.Warn("memory limit exceeded, pausing crawl", "heap_mb", m.HeapAlloc>>20, "limit_mb", limit>>20)
				e.Pause()
				pausedByMemory = true
				runtime.GC()
			case pausedByMemory && m.HeapAlloc < limit*8/10:
				e.logger.Info("memory back under limit, resuming crawl", "heap_mb", m.HeapAlloc>>20)
				e.Resume()
				pausedByMemory = false
			}
		}
	}
}

// autoStopLoop implements auto-stop: when the frontier has been empty
// continuously for AutoStopTimeout, the engine transitions to
// Stopping. This is a poll rather than an edge trigger so pause/resume
// composes with it cleanly — a paused engine's frontier isn't being
// drained, but auto-stop only fires while Running.
func (e *Engine) autoStopLoop() {
	const pollInterval = 1 * time.Second
	timeout := e.cfg.Basic.AutoStopTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var emptySince time.Time
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.statsDone:
			return
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.CurrentState() != crawltypes.StatusRunning {
				emptySince = time.Time{}
				continue
			}
			if e.frontier.IsEmpty() && e.inFlight.Load() == 0 {
				if emptySince.IsZero() {
					emptySince = time.Now()
				} else if time.Since(emptySince) >= timeout {
					e.logger.Info("auto-stop: frontier idle past timeout", "timeout", timeout)
					go e.Stop(true)
					return
				}
			} else {
				emptySince = time.Time{}
			}
		}
	}
}
