// Package plugin defines the stage contracts the pipeline dispatcher
// consumes: Downloader, Parser, Storage, and MetadataStore. It is a
// static contract only; plugin discovery and dynamic loading are out
// of scope, so implementations are handed to the engine directly
// (Engine.SetDownloaders, SetParsers, SetStores, SetMetadataStore)
// rather than registered through this package.
package plugin

import (
	"context"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// Downloader fetches a CrawlRequest's content.
type Downloader interface {
	Name() string
	Priority() int
	Initialize(ctx context.Context) error
	Download(ctx context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error)
	Shutdown() error
}

// Parser extracts a ParseResult from a DownloadResult.
type Parser interface {
	Name() string
	Priority() int
	Initialize(ctx context.Context) error
	Parse(ctx context.Context, req *crawltypes.CrawlRequest, dl *crawltypes.DownloadResult) (*crawltypes.ParseResult, error)
	Shutdown() error
}

// Storage persists a CrawlResult.
type Storage interface {
	Name() string
	Priority() int
	Initialize(ctx context.Context) error
	Save(ctx context.Context, result *crawltypes.CrawlResult) error
	SaveStatistics(ctx context.Context, stats map[string]int64) error
	Shutdown() error
}

// MetadataStore persists the durable per-job and per-URL state the
// engine checkpoints for pause/resume.
type MetadataStore interface {
	SaveCrawlState(ctx context.Context, state *crawltypes.CrawlState) error
	GetCrawlState(ctx context.Context, jobID string) (*crawltypes.CrawlState, error)
	SaveURLState(ctx context.Context, state *crawltypes.UrlState) error
	GetURLState(ctx context.Context, url string) (*crawltypes.UrlState, error)
}
