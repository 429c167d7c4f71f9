// Package crawltypes holds the data model shared across the crawl
// execution engine: requests, download/parse/crawl results, durable
// per-URL and per-job state, and the error taxonomy the retry
// component classifies against.
package crawltypes

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/myh0420/crawlerframework/internal/config"
)

// Seed priority assigned by the engine to every seed request. Priority
// is served highest-first; discovered links inherit referrer.Priority-1,
// giving a depth-first bias that seeds at higher priority override.
const SeedPriority = 10

// CrawlRequest is a unit of work moving through the frontier and
// worker pool. It is created by the engine for seeds or by the
// pipeline for discovered links, mutated only by the retry path
// (RetryCount increments), and released after terminal processing.
type CrawlRequest struct {
	ID         string
	URL        *url.URL
	Depth      int
	Priority   int
	Referrer   string
	RetryCount int
	Config     *config.Config
	Cancel     context.Context
	CreatedAt  time.Time
}

// NewCrawlRequest builds a CrawlRequest for a freshly admitted URL.
func NewCrawlRequest(raw string, depth, priority int, referrer string, cfg *config.Config) (*CrawlRequest, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &CrawlRequest{
		ID:        uuid.NewString(),
		URL:       u,
		Depth:     depth,
		Priority:  priority,
		Referrer:  referrer,
		Config:    cfg,
		CreatedAt: time.Now(),
	}, nil
}

// Domain returns the registered host used as the key for pacing,
// robots, retry, and circuit breaker state.
func (r *CrawlRequest) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Clone returns a copy safe for independent mutation (e.g. bumping
// RetryCount on a re-enqueue without racing the original holder).
func (r *CrawlRequest) Clone() *CrawlRequest {
	c := *r
	return &c
}
