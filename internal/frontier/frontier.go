// Package frontier implements the URL frontier / scheduler: URL
// deduplication, priority queueing, per-domain pacing, and discovery
// accounting.
package frontier

import (
	"container/heap"
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// domainHealth is a cumulative success/total counter used only to
// break priority ties toward better-performing origins. It covers
// every outcome recorded in the job; older outcomes are not aged out.
type domainHealth struct {
	success int64
	total   int64
}

func (h *domainHealth) score() float64 {
	if h.total == 0 {
		return 1.0
	}
	return float64(h.success) / float64(h.total)
}

// Frontier is the queue + dedup + pacing + domain-filter subsystem.
// add/next appear atomic to callers; internal state is serialized
// under a single lock.
type Frontier struct {
	mu      sync.Mutex
	pq      priorityQueue
	dedup   *deduplicator
	pacer   *pacer
	health  map[string]*domainHealth
	closed  bool
	nextSeq int64

	allowedDomains  map[string]struct{}
	blockedPatterns []*regexp.Regexp
	maxQueueSize    int

	queued    atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64
	filtered  atomic.Int64
}

// New builds a Frontier from the relevant sections of a config
// snapshot.
func New(cfg *config.Config) *Frontier {
	f := &Frontier{
		pq:           make(priorityQueue, 0),
		dedup:        newDeduplicator(100000),
		pacer:        newPacer(cfg.Basic.RequestDelay),
		health:       make(map[string]*domainHealth),
		maxQueueSize: cfg.Performance.MaxQueueSize,
	}
	heap.Init(&f.pq)

	if len(cfg.Domains.AllowedDomains) > 0 {
		f.allowedDomains = make(map[string]struct{}, len(cfg.Domains.AllowedDomains))
		for _, d := range cfg.Domains.AllowedDomains {
			f.allowedDomains[d] = struct{}{}
		}
	}
	for _, pat := range cfg.Domains.BlockedPatterns {
		if re, err := regexp.Compile(pat); err == nil {
			f.blockedPatterns = append(f.blockedPatterns, re)
		}
	}

	return f
}

// Add admits one request, returning whether it was newly admitted
// (not a duplicate of an already-seen URL, not filtered by domain
// policy, and not rejected for a full queue).
func (f *Frontier) Add(req *crawltypes.CrawlRequest) bool {
	if req == nil || req.URL == nil {
		f.errors.Add(1)
		return false
	}

	if !f.domainAllowed(req.URL.String(), req.Domain()) {
		f.filtered.Add(1)
		return false
	}

	canonical, err := Canonicalize(req.URL.String())
	if err != nil {
		f.errors.Add(1)
		return false
	}
	if !f.dedup.markIfNew(canonical) {
		return false
	}

	return f.push(req)
}

// Readmit re-enqueues a request the retry path has authorized,
// bypassing deduplication: the URL is already in the seen-set from
// its original admission, and that is the one legal way a seen URL
// re-enters the queue.
func (f *Frontier) Readmit(req *crawltypes.CrawlRequest) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return f.push(req)
}

func (f *Frontier) push(req *crawltypes.CrawlRequest) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	if f.maxQueueSize > 0 && f.pq.Len() >= f.maxQueueSize {
		f.mu.Unlock()
		f.filtered.Add(1)
		return false
	}

	h, ok := f.health[req.Domain()]
	score := 1.0
	if ok {
		score = h.score()
	}

	f.nextSeq++
	heap.Push(&f.pq, &pqItem{req: req, health: score, seq: f.nextSeq})
	f.mu.Unlock()

	f.queued.Add(1)
	return true
}

// AddMany is the batch form of Add.
func (f *Frontier) AddMany(reqs []*crawltypes.CrawlRequest) int {
	admitted := 0
	for _, r := range reqs {
		if f.Add(r) {
			admitted++
		}
	}
	return admitted
}

func (f *Frontier) domainAllowed(rawURL, domain string) bool {
	for _, re := range f.blockedPatterns {
		if re.MatchString(rawURL) {
			return false
		}
	}
	if f.allowedDomains != nil {
		if _, ok := f.allowedDomains[domain]; !ok {
			return false
		}
	}
	return true
}

// TryPop returns the highest-priority ready request without
// blocking, or (nil, false) if the queue is empty or every pending
// item's origin is currently pacing-delayed.
func (f *Frontier) TryPop() (*crawltypes.CrawlRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked()
}

func (f *Frontier) popLocked() (*crawltypes.CrawlRequest, bool) {
	var deferred []*pqItem
	for f.pq.Len() > 0 {
		item := heap.Pop(&f.pq).(*pqItem)
		if f.pacer.ready(item.req.Domain()) {
			for _, d := range deferred {
				heap.Push(&f.pq, d)
			}
			f.processed.Add(1)
			return item.req, true
		}
		deferred = append(deferred, item)
	}
	for _, d := range deferred {
		heap.Push(&f.pq, d)
	}
	return nil, false
}

// Pop blocks until a ready request is available, the frontier is
// closed, or ctx is cancelled. It polls rather than waiting
// indefinitely on cond because pacing readiness changes on a timer
// the condvar can't observe directly.
func (f *Frontier) Pop(ctx context.Context) (*crawltypes.CrawlRequest, bool) {
	for {
		if req, ok := f.TryPop(); ok {
			return req, true
		}
		if f.IsClosed() {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// SetDomainDelay widens a domain's minimum inter-request delay, used
// by the robots gate to feed Crawl-delay directives into pacing.
func (f *Frontier) SetDomainDelay(domain string, delay time.Duration) {
	f.pacer.setDomainDelay(domain, delay)
}

// RecordDomainPerformance adds one outcome to the domain's cumulative
// success ratio used by priority tie-breaking. The duration is not
// used.
func (f *Frontier) RecordDomainPerformance(domain string, _ time.Duration, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.health[domain]
	if !ok {
		h = &domainHealth{}
		f.health[domain] = h
	}
	h.total++
	if success {
		h.success++
	}
}

// Len reports the number of requests currently queued.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pq.Len()
}

func (f *Frontier) IsEmpty() bool { return f.Len() == 0 }

// Close marks the frontier closed; blocked Pop callers observe this
// on their next poll tick and return immediately.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *Frontier) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Counters is a point-in-time snapshot of the monotonic counters.
type Counters struct {
	Queued    int64
	Processed int64
	Errors    int64
	Filtered  int64
	SeenCount int
}

func (f *Frontier) Counters() Counters {
	return Counters{
		Queued:    f.queued.Load(),
		Processed: f.processed.Load(),
		Errors:    f.errors.Load(),
		Filtered:  f.filtered.Load(),
		SeenCount: f.dedup.count(),
	}
}
