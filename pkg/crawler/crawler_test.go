package crawler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Basic.RequestDelay = 0
	cfg.Basic.RespectRobotsTxt = false
	cfg.Basic.AutoStopTimeout = 200 * time.Millisecond
	cfg.AntiBot.EnableDetection = false
	cfg.Performance.ThreadAdjustInterval = 100 * time.Millisecond
	return cfg
}

func TestCrawlerEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><title>root</title><body><a href="/p1">1</a><a href="/p2">2</a></body></html>`)
	})
	mux.HandleFunc("/p1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><title>p1</title></html>`)
	})
	mux.HandleFunc("/p2", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><title>p2</title></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "results.json")

	c := New(
		WithConfig(fastConfig()),
		WithMaxDepth(1),
		WithConcurrency(2),
		WithOutput(out),
		WithCheckpointDir(filepath.Join(dir, "checkpoints")),
	)

	var pages atomic.Int64
	c.OnPage(func(result *crawltypes.CrawlResult) { pages.Add(1) })

	require.NoError(t, c.Start(srv.URL+"/"))
	c.Wait()

	assert.EqualValues(t, 3, pages.Load())
	assert.FileExists(t, out)

	stats := c.Stats()
	assert.EqualValues(t, 3, stats["urls_processed"])
	assert.EqualValues(t, 0, stats["urls_failed"])
}

func TestCrawlerRejectsAllInvalidSeeds(t *testing.T) {
	c := New(WithConfig(fastConfig()), WithCheckpointDir(t.TempDir()))
	err := c.Start("::not-a-url::")
	assert.Error(t, err)
}
