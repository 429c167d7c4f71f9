// Package robots implements the robots.txt gate: per-origin fetch,
// TTL cache, and Allow/Disallow/Crawl-delay evaluation.
package robots

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	fetchTimeout = 10 * time.Second
	cacheTTL     = 1 * time.Hour
	maxBodyBytes = 512 * 1024
)

type cacheEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
	allowAll  bool // fetch failure or error status: cached as "all allowed"
}

// Gate fetches, caches, and evaluates robots.txt per origin.
type Gate struct {
	logger    *slog.Logger
	userAgent string
	client    *http.Client

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	sf singleflight.Group
}

// New builds a Gate. userAgent is matched against robots.txt
// directives, falling back to "*" when no specific group matches.
func New(logger *slog.Logger, userAgent string) *Gate {
	return &Gate{
		logger:    logger.With("component", "robots"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: fetchTimeout},
		cache:     make(map[string]*cacheEntry),
	}
}

// IsAllowed reports whether rawURL may be fetched under the cached
// robots.txt rules for its origin. Fetch failures default to
// "allowed" but are logged.
func (g *Gate) IsAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	entry := g.entryFor(u)
	if entry == nil || entry.allowAll || entry.group == nil {
		return true
	}
	return entry.group.Test(u.Path)
}

// CrawlDelay returns the origin's configured crawl-delay, or 0 if
// none is set.
func (g *Gate) CrawlDelay(rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	entry := g.entryFor(u)
	if entry == nil || entry.group == nil {
		return 0
	}
	return entry.group.CrawlDelay
}

func (g *Gate) entryFor(u *url.URL) *cacheEntry {
	origin := u.Scheme + "://" + u.Host

	g.mu.RLock()
	entry, ok := g.cache[origin]
	g.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < cacheTTL {
		return entry
	}

	// singleflight collapses concurrent first-touches for the same
	// origin into one network fetch.
	v, _, _ := g.sf.Do(origin, func() (any, error) {
		fresh := g.fetch(origin)
		g.mu.Lock()
		g.cache[origin] = fresh
		g.mu.Unlock()
		return fresh, nil
	})
	return v.(*cacheEntry)
}

func (g *Gate) fetch(origin string) *cacheEntry {
	resp, err := g.client.Get(origin + "/robots.txt")
	if err != nil {
		g.logger.Warn("robots.txt fetch failed, defaulting to allowed", "origin", origin, "error", err)
		return &cacheEntry{fetchedAt: time.Now(), allowAll: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Any 4xx or 5xx response is cached as "all allowed", without logging.
		return &cacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		g.logger.Warn("robots.txt read failed, defaulting to allowed", "origin", origin, "error", err)
		return &cacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.Warn("robots.txt parse failed, defaulting to allowed", "origin", origin, "error", err)
		return &cacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	return &cacheEntry{group: data.FindGroup(g.userAgent), fetchedAt: time.Now()}
}

// Shutdown releases held resources. The HTTP client needs no
// explicit close, but Shutdown exists to satisfy the uniform
// initialize/shutdown lifecycle every long-lived subsystem follows.
func (g *Gate) Shutdown() error { return nil }
