// Package metrics implements the crawl metrics sink: counters and
// duration samples labelled by domain and status code, with an
// optional Prometheus text-exposition endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Sink is the thin metrics interface the engine and its subsystems
// record through: counters and duration histograms labelled by
// domain and status code, plus per-error-kind counters.
type Sink struct {
	urlsProcessed   atomic.Int64
	urlsFailed      atomic.Int64
	urlsSkipped     atomic.Int64
	bytesDownloaded atomic.Int64

	mu              sync.Mutex
	byStatus        map[int]int64
	byDomain        map[string]int64
	byErrorKind     map[string]int64
	bySkipReason    map[string]int64
	downloadDurations []float64
	parseDurations    []float64
	storageDurations  []float64
}

// New builds an empty Sink.
func New() *Sink {
	return &Sink{
		byStatus:     make(map[int]int64),
		byDomain:     make(map[string]int64),
		byErrorKind:  make(map[string]int64),
		bySkipReason: make(map[string]int64),
	}
}

// RecordSuccess records one successfully processed URL.
func (s *Sink) RecordSuccess(domain string, statusCode int, bytes int64, downloadMS, parseMS, storageMS int64) {
	s.urlsProcessed.Add(1)
	s.bytesDownloaded.Add(bytes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStatus[statusCode]++
	s.byDomain[domain]++
	s.downloadDurations = append(s.downloadDurations, float64(downloadMS))
	s.parseDurations = append(s.parseDurations, float64(parseMS))
	s.storageDurations = append(s.storageDurations, float64(storageMS))
}

// RecordFailure records one failed URL, labelled by error kind.
func (s *Sink) RecordFailure(domain, errorKind string) {
	s.urlsFailed.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byErrorKind[errorKind]++
}

// RecordSkipped records one policy rejection (robots disallow,
// anti-bot skip, depth exceeded, domain blocked). Skips are not
// errors and never count toward urls_failed.
func (s *Sink) RecordSkipped(reason string) {
	s.urlsSkipped.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySkipReason[reason]++
}

// Snapshot returns a point-in-time copy of every counter, keyed for
// readability in logs and tests.
func (s *Sink) Snapshot() map[string]int64 {
	snap := map[string]int64{
		"urls_processed":   s.urlsProcessed.Load(),
		"urls_failed":      s.urlsFailed.Load(),
		"urls_skipped":     s.urlsSkipped.Load(),
		"bytes_downloaded": s.bytesDownloaded.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for status, n := range s.byStatus {
		snap[fmt.Sprintf("status_%d", status)] = n
	}
	for domain, n := range s.byDomain {
		snap["domain_"+domain] = n
	}
	for kind, n := range s.byErrorKind {
		snap["error_"+kind] = n
	}
	for reason, n := range s.bySkipReason {
		snap["skipped_"+reason] = n
	}
	return snap
}

// ServeHTTP exposes the sink in Prometheus text-exposition format.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# TYPE crawler_urls_processed_total counter\ncrawler_urls_processed_total %d\n", s.urlsProcessed.Load())
	fmt.Fprintf(w, "# TYPE crawler_urls_failed_total counter\ncrawler_urls_failed_total %d\n", s.urlsFailed.Load())
	fmt.Fprintf(w, "# TYPE crawler_urls_skipped_total counter\ncrawler_urls_skipped_total %d\n", s.urlsSkipped.Load())
	fmt.Fprintf(w, "# TYPE crawler_bytes_downloaded_total counter\ncrawler_bytes_downloaded_total %d\n", s.bytesDownloaded.Load())

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]int, 0, len(s.byStatus))
	for status := range s.byStatus {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "crawler_responses_total{status=%q} %d\n", strconv.Itoa(status), s.byStatus[status])
	}

	for domain, n := range s.byDomain {
		fmt.Fprintf(w, "crawler_requests_total{domain=%q} %d\n", domain, n)
	}
	for kind, n := range s.byErrorKind {
		fmt.Fprintf(w, "crawler_errors_total{kind=%q} %d\n", kind, n)
	}
	for reason, n := range s.bySkipReason {
		fmt.Fprintf(w, "crawler_skipped_total{reason=%q} %d\n", reason, n)
	}
}

// StartServer starts a background HTTP server exposing the metrics
// endpoint. It returns the server so the caller can Shutdown it.
func StartServer(s *Sink, port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go srv.ListenAndServe()
	return srv
}
