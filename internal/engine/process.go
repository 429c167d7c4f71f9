package engine

import (
	"context"
	"errors"
	"time"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
	"github.com/myh0420/crawlerframework/internal/events"
	"github.com/myh0420/crawlerframework/internal/retry"
)

// processRequest runs one request through the full pipeline:
// Robots -> AntiBot -> Download -> Parse -> Store -> Enqueue-children
// -> Emit-events, with retry/circuit-breaker handling on failure. It
// is the ProcessFunc handed to workerpool.Pool and therefore runs on
// a worker goroutine.
func (e *Engine) processRequest(ctx context.Context, req *crawltypes.CrawlRequest) {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	req.Cancel = ctx

	if req.Depth > e.cfg.Basic.MaxDepth {
		e.recordSkipped("depth_exceeded")
		return
	}
	if ctx.Err() != nil {
		return
	}

	domain := req.Domain()
	rawURL := req.URL.String()

	if e.cfg.Basic.RespectRobotsTxt && e.robots != nil {
		if !e.robots.IsAllowed(rawURL) {
			e.recordSkipped("robots")
			return
		}
		if delay := e.robots.CrawlDelay(rawURL); delay > 0 {
			e.frontier.SetDomainDelay(domain, delay)
		}
	}
	if e.cfg.AntiBot.EnableDetection && e.antibot != nil && !e.antibot.ShouldProcess(rawURL, domain) {
		e.recordSkipped("antibot")
		return
	}

	dl, err := e.dispatcher.Download(ctx, req)
	if err != nil {
		e.handleFailure(ctx, req, 0, 0, err)
		return
	}
	if !dl.IsSuccess {
		cause := errors.New(dl.ErrorMessage)
		_, retryable := retry.Classify(dl.StatusCode, cause)
		e.handleFailure(ctx, req, dl.StatusCode, dl.RetryAfter, &crawltypes.FetchError{
			URL:        rawURL,
			StatusCode: dl.StatusCode,
			Err:        cause,
			Retryable:  retryable,
			RetryAfter: dl.RetryAfter,
		})
		return
	}

	e.frontier.RecordDomainPerformance(domain, time.Duration(dl.DownloadTimeMS)*time.Millisecond, dl.IsSuccess)

	pr, err := e.dispatcher.Parse(ctx, req, dl)
	if err != nil {
		e.handleFailure(ctx, req, dl.StatusCode, 0, err)
		return
	}

	result := &crawltypes.CrawlResult{Request: req, Download: dl, Parse: pr, ProcessedAt: time.Now()}

	storeStart := time.Now()
	if err := e.dispatcher.Store(ctx, result); err != nil {
		// Storage failures propagate as a CrawlError but are never
		// re-enqueued: storage is expected to be durable/idempotent.
		e.metrics.RecordFailure(domain, "storage")
		e.events.EmitCrawlError(events.CrawlError{Request: req, Err: err, Kind: crawltypes.ErrorKindOther, Retried: false})
		return
	}
	storageMS := time.Since(storeStart).Milliseconds()

	e.retry.RecordSuccess(domain)
	e.metrics.RecordSuccess(domain, dl.StatusCode, int64(len(dl.RawBytes)), dl.DownloadTimeMS, pr.ParseTimeMS, storageMS)
	e.processedSuccess.Add(1)

	if e.metaStore != nil {
		now := time.Now()
		_ = e.metaStore.SaveURLState(ctx, &crawltypes.UrlState{
			URL:           rawURL,
			DiscoveredAt:  req.CreatedAt,
			ProcessedAt:   &now,
			StatusCode:    dl.StatusCode,
			ContentLength: int64(len(dl.RawBytes)),
			ContentType:   dl.ContentType,
			DownloadTime:  time.Duration(dl.DownloadTimeMS) * time.Millisecond,
			RetryCount:    req.RetryCount,
		})
	}

	if len(pr.Links) > 0 && req.Depth < e.cfg.Basic.MaxDepth {
		children := make([]*crawltypes.CrawlRequest, 0, len(pr.Links))
		for _, link := range pr.Links {
			child, err := crawltypes.NewCrawlRequest(link, req.Depth+1, req.Priority-1, rawURL, req.Config)
			if err != nil {
				continue
			}
			children = append(children, child)
		}
		admitted := e.frontier.AddMany(children)
		e.events.EmitURLDiscovered(events.UrlDiscovered{Source: rawURL, Links: pr.Links, Admitted: admitted})
	}

	e.events.EmitCrawlCompleted(events.CrawlCompleted{Request: req, Result: result})

	if maxPages := e.cfg.Basic.MaxPages; maxPages > 0 && e.processedSuccess.Load() >= int64(maxPages) {
		go e.Stop(true)
	}
}

// recordSkipped records a policy rejection (robots, anti-bot, depth):
// counted, but never an error and never retried.
func (e *Engine) recordSkipped(reason string) {
	e.metrics.RecordSkipped(reason)
}

// handleFailure classifies a download/parse failure, records it to
// the retry tracker and metrics sink, emits CrawlError, and — if the
// retry tracker authorizes it — sleeps the backoff (honoring
// cancellation) and re-admits the request with an incremented
// RetryCount. A server-supplied Retry-After raises the computed
// backoff when it asks for a longer wait.
func (e *Engine) handleFailure(ctx context.Context, req *crawltypes.CrawlRequest, statusCode int, retryAfter time.Duration, err error) {
	kind, _ := retry.Classify(statusCode, err)
	domain := req.Domain()

	retryOK, delayMS := e.retry.ShouldRetry(domain, kind, req.RetryCount)
	e.metrics.RecordFailure(domain, kind.String())
	e.events.EmitCrawlError(events.CrawlError{Request: req, Err: err, Kind: kind, Retried: retryOK})

	if !retryOK {
		return
	}

	delay := time.Duration(delayMS) * time.Millisecond
	if retryAfter > delay {
		delay = retryAfter
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	next := req.Clone()
	next.RetryCount++
	e.frontier.Readmit(next)
}
