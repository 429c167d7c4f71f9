package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
	"github.com/myh0420/crawlerframework/internal/events"
	"github.com/myh0420/crawlerframework/internal/plugin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDownloader serves the same empty HTML page for every URL; the
// links a page yields come from fakeParser.
type fakeDownloader struct {
	seed string
}

func (f *fakeDownloader) Name() string                         { return "fake" }
func (f *fakeDownloader) Priority() int                        { return 0 }
func (f *fakeDownloader) Initialize(context.Context) error     { return nil }
func (f *fakeDownloader) Shutdown() error                      { return nil }
func (f *fakeDownloader) Download(_ context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error) {
	return &crawltypes.DownloadResult{
		URL:         req.URL.String(),
		Content:     "<html></html>",
		ContentType: "text/html",
		StatusCode:  200,
		IsSuccess:   true,
	}, nil
}

// fakeParser yields two children for the seed URL and nothing for
// any discovered page, bounding the crawl at depth 1.
type fakeParser struct {
	seed string
}

func (p *fakeParser) Name() string                     { return "fake" }
func (p *fakeParser) Priority() int                    { return 0 }
func (p *fakeParser) Initialize(context.Context) error { return nil }
func (p *fakeParser) Shutdown() error                  { return nil }
func (p *fakeParser) Parse(_ context.Context, req *crawltypes.CrawlRequest, dl *crawltypes.DownloadResult) (*crawltypes.ParseResult, error) {
	result := &crawltypes.ParseResult{URL: dl.URL}
	if req.URL.String() == p.seed {
		result.Links = []string{p.seed + "p1", p.seed + "p2"}
		result.DiscoveredURLs = len(result.Links)
	}
	return result, nil
}

// fakeStore records every saved result in memory.
type fakeStore struct {
	mu      sync.Mutex
	saved   []string
}

func (s *fakeStore) Name() string                     { return "fake" }
func (s *fakeStore) Priority() int                    { return 0 }
func (s *fakeStore) Initialize(context.Context) error { return nil }
func (s *fakeStore) Shutdown() error                  { return nil }
func (s *fakeStore) Save(_ context.Context, result *crawltypes.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, result.Request.URL.String())
	return nil
}
func (s *fakeStore) SaveStatistics(context.Context, map[string]int64) error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

var (
	_ plugin.Downloader = (*fakeDownloader)(nil)
	_ plugin.Parser     = (*fakeParser)(nil)
	_ plugin.Storage    = (*fakeStore)(nil)
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Basic.MaxDepth = 1
	cfg.Basic.MaxConcurrentTasks = 2
	cfg.Basic.RequestDelay = 0
	cfg.Basic.RespectRobotsTxt = false
	cfg.Basic.AutoStopTimeout = 200 * time.Millisecond
	cfg.AntiBot.EnableDetection = false
	cfg.Performance.ThreadAdjustInterval = 50 * time.Millisecond
	cfg.Performance.MinWorkers = 1
	cfg.Performance.MaxWorkers = 4
	cfg.Monitoring.MetricsIntervalSeconds = 1
	return cfg
}

func TestSingleSeedDepthOneStaticPages(t *testing.T) {
	const seed = "https://a.test/"
	cfg := testConfig()

	eng := New(cfg, testLogger())
	store := &fakeStore{}
	eng.SetDownloaders(&fakeDownloader{seed: seed})
	eng.SetParsers(&fakeParser{seed: seed})
	eng.SetStores(store)

	var completed atomic.Int64
	var discovered atomic.Int64
	eng.Events().Subscribe("test", events.Handlers{
		OnCrawlCompleted: func(events.CrawlCompleted) { completed.Add(1) },
		OnURLDiscovered:  func(events.UrlDiscovered) { discovered.Add(1) },
	})

	if admitted := eng.AddSeeds([]string{seed}); admitted != 1 {
		t.Fatalf("expected 1 seed admitted, got %d", admitted)
	}
	if err := eng.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eng.Wait()

	if got := completed.Load(); got != 3 {
		t.Fatalf("expected 3 CrawlCompleted events (seed + 2 children), got %d", got)
	}
	if got := discovered.Load(); got != 1 {
		t.Fatalf("expected exactly 1 UrlDiscovered event, got %d", got)
	}
	if got := store.count(); got != 3 {
		t.Fatalf("expected 3 stored results, got %d", got)
	}
	if got := eng.CurrentState(); got != crawltypes.StatusIdle {
		t.Fatalf("expected engine to reach Idle via auto-stop, got %s", got)
	}
}

func TestMaxDepthZeroProcessesOnlySeed(t *testing.T) {
	const seed = "https://b.test/"
	cfg := testConfig()
	cfg.Basic.MaxDepth = 0

	eng := New(cfg, testLogger())
	store := &fakeStore{}
	eng.SetDownloaders(&fakeDownloader{seed: seed})
	eng.SetParsers(&fakeParser{seed: seed})
	eng.SetStores(store)

	eng.AddSeeds([]string{seed})
	if err := eng.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eng.Wait()

	if got := store.count(); got != 1 {
		t.Fatalf("expected exactly 1 stored result at max_depth=0, got %d", got)
	}
}

// flakyDownloader fails with 503 a fixed number of times before
// succeeding.
type flakyDownloader struct {
	failures atomic.Int64
	failN    int64
}

func (f *flakyDownloader) Name() string                     { return "flaky" }
func (f *flakyDownloader) Priority() int                    { return 0 }
func (f *flakyDownloader) Initialize(context.Context) error { return nil }
func (f *flakyDownloader) Shutdown() error                  { return nil }
func (f *flakyDownloader) Download(_ context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error) {
	if f.failures.Add(1) <= f.failN {
		return &crawltypes.DownloadResult{URL: req.URL.String(), StatusCode: 503, IsSuccess: false, ErrorMessage: "service unavailable"}, nil
	}
	return &crawltypes.DownloadResult{URL: req.URL.String(), Content: "<html></html>", StatusCode: 200, IsSuccess: true}, nil
}

func TestTransient503RetriesThenSucceeds(t *testing.T) {
	const seed = "https://b.test/x"
	cfg := testConfig()
	cfg.Basic.MaxDepth = 0
	cfg.AntiBot.RetryPolicy.InitialDelay = 10 * time.Millisecond

	eng := New(cfg, testLogger())
	store := &fakeStore{}
	eng.SetDownloaders(&flakyDownloader{failN: 2})
	eng.SetParsers(&fakeParser{})
	eng.SetStores(store)

	var completed atomic.Int64
	var errorsSeen atomic.Int64
	eng.Events().Subscribe("test", events.Handlers{
		OnCrawlCompleted: func(events.CrawlCompleted) { completed.Add(1) },
		OnCrawlError:     func(events.CrawlError) { errorsSeen.Add(1) },
	})

	eng.AddSeeds([]string{seed})
	if err := eng.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eng.Wait()

	if got := completed.Load(); got != 1 {
		t.Fatalf("expected exactly 1 CrawlCompleted after retries, got %d", got)
	}
	if got := errorsSeen.Load(); got != 2 {
		t.Fatalf("expected 2 CrawlError events for the 503s, got %d", got)
	}
	if got := store.count(); got != 1 {
		t.Fatalf("expected 1 stored result, got %d", got)
	}
}

func TestPauseIsIdempotentNoOpWhenAlreadyPaused(t *testing.T) {
	cfg := testConfig()
	eng := New(cfg, testLogger())
	eng.SetDownloaders(&fakeDownloader{})
	eng.SetParsers(&fakeParser{})
	eng.SetStores(&fakeStore{})

	if err := eng.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(false)

	var transitions atomic.Int64
	eng.Events().Subscribe("counter", events.Handlers{
		OnCrawlerStatusChanged: func(events.CrawlerStatusChanged) { transitions.Add(1) },
	})

	eng.Pause()
	first := transitions.Load()
	eng.Pause()
	if transitions.Load() != first {
		t.Fatalf("expected re-pausing an already-paused engine to emit no event")
	}
	if eng.CurrentState() != crawltypes.StatusPaused {
		t.Fatalf("expected Paused, got %s", eng.CurrentState())
	}
}
