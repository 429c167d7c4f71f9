// Package events implements the engine's typed pub/sub surface:
// CrawlCompleted, CrawlError, UrlDiscovered, and
// CrawlerStatusChanged, delivered synchronously to registered
// handlers on the emitting worker.
package events

import (
	"sync"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// CrawlCompleted is emitted after a request's full pipeline
// (download, parse, store, enqueue-children) finishes successfully.
type CrawlCompleted struct {
	Request *crawltypes.CrawlRequest
	Result  *crawltypes.CrawlResult
}

// CrawlError is emitted whenever process_request's error path is
// taken, whether or not the request is subsequently retried.
type CrawlError struct {
	Request *crawltypes.CrawlRequest
	Err     error
	Kind    crawltypes.ErrorKind
	Retried bool
}

// UrlDiscovered is emitted once per processed page that yields links,
// reporting how many of the discovered URLs were newly admitted.
type UrlDiscovered struct {
	Source   string
	Links    []string
	Admitted int
}

// CrawlerStatusChanged is emitted on every engine state transition.
type CrawlerStatusChanged struct {
	Previous crawltypes.CrawlStatus
	Current  crawltypes.CrawlStatus
	Message  string
}

// Handlers is the set of callbacks a subscriber registers. A nil
// field means the subscriber doesn't care about that event kind.
// Handlers must not block and must not call back into the engine.
type Handlers struct {
	OnCrawlCompleted       func(CrawlCompleted)
	OnCrawlError           func(CrawlError)
	OnURLDiscovered        func(UrlDiscovered)
	OnCrawlerStatusChanged func(CrawlerStatusChanged)
}

// Bus is a synchronous, copy-on-write subscriber registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handlers
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]Handlers)}
}

// Subscribe registers handlers under name, replacing any prior
// registration with the same name.
func (b *Bus) Subscribe(name string, h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make(map[string]Handlers, len(b.handlers)+1)
	for k, v := range b.handlers {
		next[k] = v
	}
	next[name] = h
	b.handlers = next
}

// Unsubscribe removes a subscriber by name.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make(map[string]Handlers, len(b.handlers))
	for k, v := range b.handlers {
		if k != name {
			next[k] = v
		}
	}
	b.handlers = next
}

func (b *Bus) snapshot() map[string]Handlers {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers
}

func (b *Bus) EmitCrawlCompleted(e CrawlCompleted) {
	for _, h := range b.snapshot() {
		if h.OnCrawlCompleted != nil {
			h.OnCrawlCompleted(e)
		}
	}
}

func (b *Bus) EmitCrawlError(e CrawlError) {
	for _, h := range b.snapshot() {
		if h.OnCrawlError != nil {
			h.OnCrawlError(e)
		}
	}
}

func (b *Bus) EmitURLDiscovered(e UrlDiscovered) {
	for _, h := range b.snapshot() {
		if h.OnURLDiscovered != nil {
			h.OnURLDiscovered(e)
		}
	}
}

func (b *Bus) EmitCrawlerStatusChanged(e CrawlerStatusChanged) {
	for _, h := range b.snapshot() {
		if h.OnCrawlerStatusChanged != nil {
			h.OnCrawlerStatusChanged(e)
		}
	}
}
