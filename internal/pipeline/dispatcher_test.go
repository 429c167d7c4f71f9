package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
	"github.com/myh0420/crawlerframework/internal/plugin"
)

type fakeDownloader struct {
	name     string
	priority int
	result   *crawltypes.DownloadResult
	err      error
}

func (f *fakeDownloader) Name() string                            { return f.name }
func (f *fakeDownloader) Priority() int                           { return f.priority }
func (f *fakeDownloader) Initialize(ctx context.Context) error    { return nil }
func (f *fakeDownloader) Shutdown() error                         { return nil }
func (f *fakeDownloader) Download(ctx context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error) {
	return f.result, f.err
}

type fakeStore struct {
	name     string
	priority int
	err      error
	saves    int
}

func (f *fakeStore) Name() string                         { return f.name }
func (f *fakeStore) Priority() int                        { return f.priority }
func (f *fakeStore) Initialize(ctx context.Context) error { return nil }
func (f *fakeStore) Shutdown() error                      { return nil }
func (f *fakeStore) Save(ctx context.Context, result *crawltypes.CrawlResult) error {
	f.saves++
	return f.err
}
func (f *fakeStore) SaveStatistics(context.Context, map[string]int64) error { return nil }

var (
	_ plugin.Downloader = (*fakeDownloader)(nil)
	_ plugin.Storage    = (*fakeStore)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest(t *testing.T) *crawltypes.CrawlRequest {
	t.Helper()
	u, _ := url.Parse("https://a.test/x")
	return &crawltypes.CrawlRequest{URL: u}
}

func TestDownloadFallsThroughToDefault(t *testing.T) {
	alt := &fakeDownloader{name: "browser", priority: 10, err: errors.New("js required")}
	def := &fakeDownloader{name: "http", priority: 0, result: &crawltypes.DownloadResult{IsSuccess: true, StatusCode: 200}}

	d := New(testLogger(), []plugin.Downloader{def, alt}, nil, nil)
	result, err := d.Download(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("expected default downloader to succeed, got %v", err)
	}
	if result.StatusCode != 200 {
		t.Fatalf("expected default's result, got %+v", result)
	}
}

func TestDownloadHighPriorityWins(t *testing.T) {
	alt := &fakeDownloader{name: "browser", priority: 10, result: &crawltypes.DownloadResult{IsSuccess: true, StatusCode: 201}}
	def := &fakeDownloader{name: "http", priority: 0, result: &crawltypes.DownloadResult{IsSuccess: true, StatusCode: 200}}

	d := New(testLogger(), []plugin.Downloader{def, alt}, nil, nil)
	result, err := d.Download(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != 201 {
		t.Fatalf("expected higher-priority plugin's result to win, got %+v", result)
	}
}

func TestStoreHighPriorityWinsAndShortCircuits(t *testing.T) {
	alt := &fakeStore{name: "mongodb", priority: 10}
	def := &fakeStore{name: "json", priority: 0}

	d := New(testLogger(), nil, nil, []plugin.Storage{def, alt})
	result := &crawltypes.CrawlResult{Request: testRequest(t)}
	if err := d.Store(context.Background(), result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alt.saves != 1 || def.saves != 0 {
		t.Fatalf("expected only the higher-priority store to save, got alt=%d def=%d", alt.saves, def.saves)
	}
}

func TestStoreFallsThroughToDefaultOnFailure(t *testing.T) {
	alt := &fakeStore{name: "mongodb", priority: 10, err: errors.New("connection lost")}
	def := &fakeStore{name: "json", priority: 0}

	d := New(testLogger(), nil, nil, []plugin.Storage{def, alt})
	result := &crawltypes.CrawlResult{Request: testRequest(t)}
	if err := d.Store(context.Background(), result); err != nil {
		t.Fatalf("expected default store to absorb the failure, got %v", err)
	}
	if def.saves != 1 {
		t.Fatalf("expected fallback save on the default store, got %d", def.saves)
	}
}

func TestStoreAllFailSurfacesError(t *testing.T) {
	def := &fakeStore{name: "json", priority: 0, err: errors.New("disk full")}

	d := New(testLogger(), nil, nil, []plugin.Storage{def})
	result := &crawltypes.CrawlResult{Request: testRequest(t)}
	err := d.Store(context.Background(), result)
	if err == nil {
		t.Fatalf("expected error when every store fails")
	}
	var pipeErr *crawltypes.PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("expected PipelineError, got %T", err)
	}
}

func TestDownloadAllFailSurfacesError(t *testing.T) {
	def := &fakeDownloader{name: "http", priority: 0, err: errors.New("boom")}

	d := New(testLogger(), []plugin.Downloader{def}, nil, nil)
	_, err := d.Download(context.Background(), testRequest(t))
	if err == nil {
		t.Fatalf("expected error when every downloader fails")
	}
	var pipeErr *crawltypes.PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("expected PipelineError, got %T", err)
	}
}
