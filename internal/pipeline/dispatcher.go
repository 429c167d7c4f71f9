// Package pipeline implements the per-stage step dispatcher: a
// chain-of-responsibility over pluggable downloaders, parsers, and
// stores, ordered by priority, falling back through alternates to a
// default implementation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
	"github.com/myh0420/crawlerframework/internal/plugin"
)

// Dispatcher runs the Download -> Parse -> Store chain for one
// request, trying each stage's implementations by descending
// priority before surfacing a failure to the caller.
type Dispatcher struct {
	logger      *slog.Logger
	downloaders []plugin.Downloader
	parsers     []plugin.Parser
	stores      []plugin.Storage
}

// New builds a Dispatcher from the (already-initialized)
// implementation sets for each stage. Each set is sorted by priority
// descending; the lowest-priority entry is tried last and plays the
// role of "default."
func New(logger *slog.Logger, downloaders []plugin.Downloader, parsers []plugin.Parser, stores []plugin.Storage) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.With("component", "pipeline"),
		downloaders: append([]plugin.Downloader(nil), downloaders...),
		parsers:     append([]plugin.Parser(nil), parsers...),
		stores:      append([]plugin.Storage(nil), stores...),
	}
	sort.SliceStable(d.downloaders, func(i, j int) bool { return d.downloaders[i].Priority() > d.downloaders[j].Priority() })
	sort.SliceStable(d.parsers, func(i, j int) bool { return d.parsers[i].Priority() > d.parsers[j].Priority() })
	sort.SliceStable(d.stores, func(i, j int) bool { return d.stores[i].Priority() > d.stores[j].Priority() })
	return d
}

// Download runs the downloader chain: the first result that succeeded
// or carries an HTTP status wins (an error status is returned, not
// skipped); a throw or empty result tries the next; the default (last, lowest
// priority) is always attempted if every alternate fails.
func (d *Dispatcher) Download(ctx context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error) {
	var lastErr error
	for _, dl := range d.downloaders {
		result, err := dl.Download(ctx, req)
		if err != nil {
			d.logger.Warn("downloader failed, trying next", "plugin", dl.Name(), "url", req.URL.String(), "error", err)
			lastErr = err
			continue
		}
		if result == nil || (!result.IsSuccess && result.StatusCode == 0) {
			d.logger.Warn("downloader returned empty result, trying next", "plugin", dl.Name(), "url", req.URL.String())
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no downloader produced a result")
	}
	return nil, &crawltypes.PipelineError{Stage: "download", URL: req.URL.String(), Err: lastErr}
}

// Parse runs the parser chain with the same fallback semantics as Download.
func (d *Dispatcher) Parse(ctx context.Context, req *crawltypes.CrawlRequest, dl *crawltypes.DownloadResult) (*crawltypes.ParseResult, error) {
	var lastErr error
	for _, p := range d.parsers {
		result, err := p.Parse(ctx, req, dl)
		if err != nil {
			d.logger.Warn("parser failed, trying next", "plugin", p.Name(), "url", req.URL.String(), "error", err)
			lastErr = err
			continue
		}
		if result == nil {
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no parser produced a result")
	}
	return nil, &crawltypes.PipelineError{Stage: "parse", URL: req.URL.String(), Err: lastErr}
}

// Store runs the storage chain with the same fallback semantics as
// Download/Parse: backends are tried by descending priority, the
// first successful Save wins, and a failure falls through to the
// next backend, ending at the lowest-priority default.
func (d *Dispatcher) Store(ctx context.Context, result *crawltypes.CrawlResult) error {
	var lastErr error
	for _, s := range d.stores {
		if err := s.Save(ctx, result); err != nil {
			d.logger.Warn("storage backend failed, trying next", "plugin", s.Name(), "url", result.Request.URL.String(), "error", err)
			lastErr = &crawltypes.StorageError{Backend: s.Name(), Err: err}
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no storage backend configured")
	}
	return &crawltypes.PipelineError{Stage: "store", URL: result.Request.URL.String(), Err: lastErr}
}
