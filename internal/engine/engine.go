// Package engine implements the crawl orchestrator:
// Start/Pause/Resume/Stop lifecycle, event emission, statistics, and
// metadata persistence tying together the frontier, retry/circuit
// breaker, robots/anti-bot gates, pipeline dispatcher, and worker
// pool.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/myh0420/crawlerframework/internal/antibot"
	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
	"github.com/myh0420/crawlerframework/internal/events"
	"github.com/myh0420/crawlerframework/internal/frontier"
	"github.com/myh0420/crawlerframework/internal/metrics"
	"github.com/myh0420/crawlerframework/internal/pipeline"
	"github.com/myh0420/crawlerframework/internal/plugin"
	"github.com/myh0420/crawlerframework/internal/retry"
	"github.com/myh0420/crawlerframework/internal/robots"
	"github.com/myh0420/crawlerframework/internal/workerpool"
)

// legalTransitions enumerates the lifecycle state machine edges:
// Idle->Running via start; Running<->Paused via pause/resume;
// Running|Paused->Stopping->Idle via stop; any->Error on unrecoverable
// initialization failure.
var legalTransitions = map[crawltypes.CrawlStatus]map[crawltypes.CrawlStatus]bool{
	crawltypes.StatusIdle:     {crawltypes.StatusRunning: true, crawltypes.StatusError: true},
	crawltypes.StatusRunning:  {crawltypes.StatusPaused: true, crawltypes.StatusStopping: true, crawltypes.StatusError: true},
	crawltypes.StatusPaused:   {crawltypes.StatusRunning: true, crawltypes.StatusStopping: true, crawltypes.StatusError: true},
	crawltypes.StatusStopping: {crawltypes.StatusIdle: true, crawltypes.StatusError: true},
	crawltypes.StatusError:    {},
}

// Engine is the crawl execution engine's orchestrator. It owns the
// worker pool, the cancellation handle, and the lifecycle timers; the
// frontier, retry tracker, and gates are constructed from the config
// snapshot at New time and each exclusively owns its own state.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	frontier *frontier.Frontier
	retry    *retry.Tracker
	robots   *robots.Gate
	antibot  *antibot.Gate
	events   *events.Bus
	metrics  *metrics.Sink

	dispatcher  *pipeline.Dispatcher
	downloaders []plugin.Downloader
	parsers     []plugin.Parser
	stores      []plugin.Storage
	metaStore   plugin.MetadataStore

	pool *workerpool.Pool

	mu        sync.Mutex
	status    crawltypes.CrawlStatus
	jobID     string
	startTime time.Time
	endTime   time.Time

	processedSuccess atomic.Int64
	inFlight         atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	statsDone chan struct{}
	idleDone  chan struct{}
}

// New builds an Engine from a validated config snapshot. Downloaders,
// parsers, and storage backends are registered afterward via
// SetDownloaders/SetParsers/SetStores/SetMetadataStore — the core
// depends only on the plugin.* interfaces, never on a concrete
// implementation.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		frontier: frontier.New(cfg),
		retry:    retry.New(cfg.AntiBot.RetryPolicy),
		events:   events.New(),
		metrics:  metrics.New(),
		status:   crawltypes.StatusIdle,
	}
	if cfg.Basic.RespectRobotsTxt {
		ua := "crawlerframework"
		if len(cfg.Basic.UserAgents) > 0 {
			ua = cfg.Basic.UserAgents[0]
		}
		e.robots = robots.New(e.logger, ua)
	}
	e.antibot = antibot.New(cfg.AntiBot.EnableDetection)
	return e
}

// SetDownloaders registers the downloader chain, highest priority
// first or last — the dispatcher sorts by priority itself.
func (e *Engine) SetDownloaders(d ...plugin.Downloader) { e.downloaders = d }

// SetParsers registers the parser chain.
func (e *Engine) SetParsers(p ...plugin.Parser) { e.parsers = p }

// SetStores registers the storage chain; like the other stages, the
// highest-priority backend that succeeds wins and the rest serve as
// fallbacks (see pipeline.Dispatcher.Store).
func (e *Engine) SetStores(s ...plugin.Storage) { e.stores = s }

// SetMetadataStore registers the durable per-job/per-URL checkpoint
// store used for pause/resume and crash recovery.
func (e *Engine) SetMetadataStore(m plugin.MetadataStore) { e.metaStore = m }

// Events exposes the event subscribe/unsubscribe surface.
func (e *Engine) Events() *events.Bus { return e.events }

// Metrics exposes the counters/histograms sink.
func (e *Engine) Metrics() *metrics.Sink { return e.metrics }

// AddSeeds admits seed requests at SeedPriority, depth 0. Invalid or
// filtered seeds are silently skipped; the caller learns the outcome
// only through the returned admitted count.
func (e *Engine) AddSeeds(urls []string) int {
	admitted := 0
	for _, raw := range urls {
		req, err := crawltypes.NewCrawlRequest(raw, 0, crawltypes.SeedPriority, "", e.cfg)
		if err != nil {
			continue
		}
		if e.frontier.Add(req) {
			admitted++
		}
	}
	return admitted
}

// Start initializes subsystems, persists the initial CrawlState, and
// spawns the worker pool, auto-scaler, and periodic statistics
// writer. jobID is generated if empty.
func (e *Engine) Start(jobID string) error {
	if !e.transition(crawltypes.StatusRunning, "start") {
		return fmt.Errorf("engine: cannot start from state %s", e.CurrentState())
	}

	if jobID == "" {
		jobID = uuid.NewString()
	}
	e.jobID = jobID
	e.startTime = time.Now()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.statsDone = make(chan struct{})
	e.idleDone = make(chan struct{})

	dispatcher, err := e.initializePlugins()
	if err != nil {
		e.transition(crawltypes.StatusError, err.Error())
		return fmt.Errorf("engine: initialize plugins: %w", err)
	}
	e.dispatcher = dispatcher

	if e.metaStore != nil {
		state := e.buildCrawlState()
		if err := e.metaStore.SaveCrawlState(e.ctx, state); err != nil {
			e.logger.Warn("initial crawl state persist failed", "error", err)
		}
	}

	poolCfg := workerpool.Config{
		InitialWorkers: e.cfg.Basic.MaxConcurrentTasks,
		MinWorkers:     e.cfg.Performance.MinWorkers,
		MaxWorkers:     e.cfg.Performance.MaxWorkers,
		HighWatermark:  e.cfg.Performance.HighWatermark,
		LowWatermark:   e.cfg.Performance.LowWatermark,
		AdjustInterval: e.cfg.Performance.ThreadAdjustInterval,
	}
	e.pool = workerpool.New(e.logger, e.frontier, e.processRequest, poolCfg)
	e.pool.Start(e.ctx)

	go e.statisticsLoop()
	if e.cfg.Basic.EnableAutoStop {
		go e.autoStopLoop()
	}
	if e.cfg.Performance.MemoryLimitMB > 0 {
		go e.memoryWatchLoop()
	}

	e.logger.Info("engine started", "job_id", jobID, "workers", poolCfg.InitialWorkers)
	return nil
}

// initializePlugins initializes every registered downloader, parser,
// and storage backend and assembles the pipeline dispatcher.
// Initialization failure is fatal: the engine enters Error and never
// starts the worker pool.
func (e *Engine) initializePlugins() (*pipeline.Dispatcher, error) {
	for _, d := range e.downloaders {
		if err := d.Initialize(e.ctx); err != nil {
			return nil, fmt.Errorf("downloader %s: %w", d.Name(), err)
		}
	}
	for _, p := range e.parsers {
		if err := p.Initialize(e.ctx); err != nil {
			return nil, fmt.Errorf("parser %s: %w", p.Name(), err)
		}
	}
	for _, s := range e.stores {
		if err := s.Initialize(e.ctx); err != nil {
			return nil, fmt.Errorf("storage %s: %w", s.Name(), err)
		}
	}
	return pipeline.New(e.logger, e.downloaders, e.parsers, e.stores), nil
}

// Pause flips status to Paused; workers self-suspend within one poll
// tick. Re-calling Pause while already Paused is a no-op and emits no
// status event.
func (e *Engine) Pause() {
	if e.transition(crawltypes.StatusPaused, "pause") {
		e.pool.Pause()
	}
}

// Resume flips status back to Running and wakes every worker blocked
// in Pause.
func (e *Engine) Resume() {
	if e.transition(crawltypes.StatusRunning, "resume") {
		e.pool.Resume()
	}
}

// Stop cancels the shared cancellation handle, drains workers with a
// bounded deadline, shuts down subsystems in reverse init order, and
// persists the final CrawlState. It is safe to call more than once —
// only the call that legally transitions out of Running/Paused has
// effect, guarded by the same transition gate as Pause/Resume.
func (e *Engine) Stop(saveState bool) {
	if !e.transition(crawltypes.StatusStopping, "stop") {
		return
	}

	e.frontier.Close()
	e.cancel()

	drained := make(chan struct{})
	go func() { e.pool.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		e.logger.Warn("worker drain deadline exceeded, abandoning stragglers")
	}

	e.shutdownSubsystems()

	e.endTime = time.Now()
	if saveState && e.metaStore != nil {
		if err := e.metaStore.SaveCrawlState(context.Background(), e.buildCrawlState()); err != nil {
			e.logger.Warn("final crawl state persist failed", "error", err)
		}
	}

	close(e.statsDone)
	e.transition(crawltypes.StatusIdle, "stopped")
	close(e.idleDone)
	e.logger.Info("engine stopped", "job_id", e.jobID, "elapsed", e.endTime.Sub(e.startTime))
}

// shutdownSubsystems calls Shutdown on every subsystem in reverse
// init order: stores, parsers, downloaders, then the robots gate.
func (e *Engine) shutdownSubsystems() {
	for i := len(e.stores) - 1; i >= 0; i-- {
		if err := e.stores[i].Shutdown(); err != nil {
			e.logger.Warn("storage shutdown failed", "plugin", e.stores[i].Name(), "error", err)
		}
	}
	for i := len(e.parsers) - 1; i >= 0; i-- {
		if err := e.parsers[i].Shutdown(); err != nil {
			e.logger.Warn("parser shutdown failed", "plugin", e.parsers[i].Name(), "error", err)
		}
	}
	for i := len(e.downloaders) - 1; i >= 0; i-- {
		if err := e.downloaders[i].Shutdown(); err != nil {
			e.logger.Warn("downloader shutdown failed", "plugin", e.downloaders[i].Name(), "error", err)
		}
	}
	if e.robots != nil {
		_ = e.robots.Shutdown()
	}
}

// Wait blocks until the engine reaches its terminal Idle state after
// a Stop (direct or auto-stop-triggered).
func (e *Engine) Wait() {
	if e.idleDone == nil {
		return
	}
	<-e.idleDone
}

// CurrentState returns the engine's lifecycle status.
func (e *Engine) CurrentState() crawltypes.CrawlStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// transition attempts to move the engine to `to`, validating against
// legalTransitions and emitting CrawlerStatusChanged on success. It
// reports whether the transition was applied; a false on a
// already-current target is the idempotent-pause/resume no-op case.
func (e *Engine) transition(to crawltypes.CrawlStatus, msg string) bool {
	e.mu.Lock()
	from := e.status
	if from == to {
		e.mu.Unlock()
		return false
	}
	if !legalTransitions[from][to] {
		e.mu.Unlock()
		return false
	}
	e.status = to
	e.mu.Unlock()

	e.events.EmitCrawlerStatusChanged(events.CrawlerStatusChanged{Previous: from, Current: to, Message: msg})
	return true
}

// buildCrawlState snapshots the durable per-job record.
func (e *Engine) buildCrawlState() *crawltypes.CrawlState {
	counters := e.frontier.Counters()
	state := &crawltypes.CrawlState{
		JobID:     e.jobID,
		StartTime: e.startTime,
		Status:    e.CurrentState(),
		Totals: crawltypes.CrawlTotals{
			Discovered: counters.Queued,
			Processed:  e.processedSuccess.Load(),
			Errors:     counters.Errors,
		},
		Statistics: e.metrics.Snapshot(),
	}
	if !e.endTime.IsZero() {
		end := e.endTime
		state.EndTime = &end
	}
	return state
}

// Statistics returns a non-blocking snapshot of the crawl's current
// state, safe to call from any goroutine.
func (e *Engine) Statistics() *crawltypes.CrawlState {
	return e.buildCrawlState()
}
