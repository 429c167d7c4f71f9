// Package crawler provides a public SDK for embedding the crawl
// engine as a library.
//
// Example usage:
//
//	c := crawler.New(
//	    crawler.WithConcurrency(5),
//	    crawler.WithMaxDepth(3),
//	    crawler.WithOutput("./output/results.json"),
//	)
//
//	c.OnPage(func(result *crawler.Result) {
//	    fmt.Println(result.Parse.Title)
//	})
//
//	c.Start("https://example.com")
//	c.Wait()
package crawler

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
	"github.com/myh0420/crawlerframework/internal/engine"
	"github.com/myh0420/crawlerframework/internal/events"
	"github.com/myh0420/crawlerframework/internal/fetch"
	"github.com/myh0420/crawlerframework/internal/htmlparse"
	"github.com/myh0420/crawlerframework/internal/store"
)

// Aliases so callers outside this module can name the types that
// flow through the SDK's options and callbacks.
type (
	Result    = crawltypes.CrawlResult
	Config    = config.Config
	ParseRule = config.ParseRule
)

// Crawler is the high-level API for using the framework as a library.
type Crawler struct {
	cfg    *config.Config
	engine *engine.Engine
	logger *slog.Logger

	onPage       func(*crawltypes.CrawlResult)
	onError      func(url string, err error)
	onDiscovered func(source string, links []string)

	browser       bool
	checkpointDir string
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithConcurrency sets the initial number of concurrent workers.
func WithConcurrency(n int) Option {
	return func(c *Crawler) { c.cfg.Basic.MaxConcurrentTasks = n }
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) { c.cfg.Basic.MaxDepth = depth }
}

// WithMaxPages stops the crawl after n successfully processed pages.
func WithMaxPages(n int) Option {
	return func(c *Crawler) { c.cfg.Basic.MaxPages = n }
}

// WithDelay sets the per-domain politeness delay between requests.
func WithDelay(d time.Duration) Option {
	return func(c *Crawler) { c.cfg.Basic.RequestDelay = d }
}

// WithOutput sets the results file path.
func WithOutput(path string) Option {
	return func(c *Crawler) { c.cfg.Storage.OutputPath = path }
}

// WithUserAgent sets a custom User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *Crawler) { c.cfg.Basic.UserAgents = []string{ua} }
}

// WithAllowedDomains restricts crawling to the given domains.
func WithAllowedDomains(domains ...string) Option {
	return func(c *Crawler) { c.cfg.Domains.AllowedDomains = domains }
}

// WithRobotsRespect enables/disables robots.txt compliance.
func WithRobotsRespect(respect bool) Option {
	return func(c *Crawler) { c.cfg.Basic.RespectRobotsTxt = respect }
}

// WithBrowser enables the headless-browser downloader ahead of the
// plain HTTP one.
func WithBrowser() Option {
	return func(c *Crawler) { c.browser = true }
}

// WithCheckpointDir sets the directory for crawl state checkpoints.
func WithCheckpointDir(dir string) Option {
	return func(c *Crawler) { c.checkpointDir = dir }
}

// WithParseRules configures extraction rules evaluated by the parser
// chain (css rules by the default parser, xpath rules by the
// alternate).
func WithParseRules(rules ...ParseRule) Option {
	return func(c *Crawler) { c.cfg.Parser.Rules = rules }
}

// WithConfig replaces the whole config snapshot; later options still
// apply on top of it.
func WithConfig(cfg *Config) Option {
	return func(c *Crawler) { c.cfg = cfg }
}

// WithLogger sets the logger; defaults to a text handler on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) { c.logger = logger }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *Crawler) { c.cfg.Logging.Level = "debug" }
}

// New creates a Crawler with the given options.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		cfg:           config.DefaultConfig(),
		checkpointDir: "./checkpoints",
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		level := slog.LevelInfo
		if c.cfg.Logging.Level == "debug" {
			level = slog.LevelDebug
		}
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return c
}

// OnPage registers a callback invoked for every successfully
// processed page. The callback runs synchronously on a worker
// goroutine and must not block.
func (c *Crawler) OnPage(cb func(*Result)) { c.onPage = cb }

// OnError registers a callback invoked for every failed request.
func (c *Crawler) OnError(cb func(url string, err error)) { c.onError = cb }

// OnDiscovered registers a callback invoked once per page that
// yielded links.
func (c *Crawler) OnDiscovered(cb func(source string, links []string)) { c.onDiscovered = cb }

// Start wires up the engine with the default plugin set and begins
// crawling from the given seed URLs.
func (c *Crawler) Start(urls ...string) error {
	if err := config.Validate(c.cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	eng := engine.New(c.cfg, c.logger)

	httpDL := fetch.NewHTTPDownloader(c.logger)
	if c.browser {
		eng.SetDownloaders(fetch.NewBrowserDownloader(c.logger, c.cfg.Basic.MaxConcurrentTasks, true), httpDL)
	} else {
		eng.SetDownloaders(httpDL)
	}

	eng.SetParsers(htmlparse.NewXPathParser(c.logger), htmlparse.NewGoqueryParser(c.logger))

	outputPath := c.cfg.Storage.OutputPath
	if outputPath == "" {
		outputPath = "./output/results.json"
	}
	jsonStore := store.NewJSONStorage(outputPath, c.logger)
	if c.cfg.Storage.MongoURI != "" {
		eng.SetStores(store.NewMongoStorage(c.cfg.Storage.MongoURI, c.cfg.Storage.MongoDB, "crawl_results", c.logger), jsonStore)
	} else {
		eng.SetStores(jsonStore)
	}

	metaStore, err := store.NewCheckpointMetadataStore(c.checkpointDir, c.logger)
	if err != nil {
		return fmt.Errorf("create checkpoint store: %w", err)
	}
	eng.SetMetadataStore(metaStore)

	eng.Events().Subscribe("sdk", events.Handlers{
		OnCrawlCompleted: func(e events.CrawlCompleted) {
			if c.onPage != nil {
				c.onPage(e.Result)
			}
		},
		OnCrawlError: func(e events.CrawlError) {
			if c.onError != nil {
				c.onError(e.Request.URL.String(), e.Err)
			}
		},
		OnURLDiscovered: func(e events.UrlDiscovered) {
			if c.onDiscovered != nil {
				c.onDiscovered(e.Source, e.Links)
			}
		},
	})

	if admitted := eng.AddSeeds(urls); admitted == 0 && len(urls) > 0 {
		return fmt.Errorf("all %d seed(s) were filtered or invalid", len(urls))
	}

	c.engine = eng
	return eng.Start("")
}

// Wait blocks until the crawl is complete.
func (c *Crawler) Wait() {
	if c.engine != nil {
		c.engine.Wait()
	}
}

// Stop gracefully stops the crawler, persisting final state.
func (c *Crawler) Stop() {
	if c.engine != nil {
		c.engine.Stop(true)
	}
}

// Pause pauses the crawler.
func (c *Crawler) Pause() {
	if c.engine != nil {
		c.engine.Pause()
	}
}

// Resume resumes the crawler.
func (c *Crawler) Resume() {
	if c.engine != nil {
		c.engine.Resume()
	}
}

// Stats returns a snapshot of the crawl's metric counters.
func (c *Crawler) Stats() map[string]int64 {
	if c.engine != nil {
		return c.engine.Metrics().Snapshot()
	}
	return nil
}
