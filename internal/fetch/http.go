// Package fetch provides the Downloader plugins: a plain net/http
// client with brotli/gzip/deflate decompression as the default, and a
// headless browser downloader for JS-bearing pages as a
// higher-priority alternate.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// HTTPDownloader is the default Downloader plugin: a plain net/http
// client. It always returns a result (never nil on a transport
// failure) so the dispatcher's priority chain can fall through to it
// as the guaranteed-available default.
type HTTPDownloader struct {
	logger  *slog.Logger
	client  *http.Client
	uaIndex atomic.Int64
}

// NewHTTPDownloader builds an HTTPDownloader. Its priority is fixed
// at 0 so it always sorts last in the dispatcher's chain and plays
// the default role every other downloader falls back to.
func NewHTTPDownloader(logger *slog.Logger) *HTTPDownloader {
	return &HTTPDownloader{logger: logger.With("component", "http_downloader")}
}

func (d *HTTPDownloader) Name() string { return "http" }
func (d *HTTPDownloader) Priority() int { return 0 }

func (d *HTTPDownloader) Initialize(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
		DisableCompression:  true, // decompression handled explicitly, incl. brotli
	}
	d.client = &http.Client{Transport: transport, Jar: jar}
	return nil
}

// Download fetches req.URL, honoring the request's configured timeout
// and redirect policy. Transport-level failures return a
// DownloadResult with IsSuccess=false and StatusCode=0 rather than an
// error, except when the request's own ctx is cancelled, which propagates
// as an error so the worker distinguishes cancellation from a normal
// fetch failure.
func (d *HTTPDownloader) Download(ctx context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error) {
	timeout := 30 * time.Second
	followRedirects := true
	var userAgents []string
	if req.Config != nil {
		if req.Config.Basic.TimeoutSeconds > 0 {
			timeout = req.Config.Basic.TimeoutSeconds
		}
		followRedirects = req.Config.Basic.FollowRedirects
		userAgents = req.Config.Basic.UserAgents
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", d.nextUserAgent(userAgents))
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	client := d.client
	if !followRedirects {
		noRedirect := *d.client
		noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		client = &noRedirect
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return &crawltypes.DownloadResult{
			URL:            req.URL.String(),
			IsSuccess:      false,
			DownloadTimeMS: elapsed,
			ErrorMessage:   err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	reader, decErr := decompressReader(resp)
	if decErr != nil {
		return &crawltypes.DownloadResult{
			URL:            req.URL.String(),
			StatusCode:     resp.StatusCode,
			IsSuccess:      false,
			DownloadTimeMS: elapsed,
			ErrorMessage:   decErr.Error(),
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(reader, 20<<20))
	if err != nil {
		return &crawltypes.DownloadResult{
			URL:            req.URL.String(),
			StatusCode:     resp.StatusCode,
			IsSuccess:      false,
			DownloadTimeMS: elapsed,
			ErrorMessage:   err.Error(),
		}, nil
	}

	result := &crawltypes.DownloadResult{
		URL:            req.URL.String(),
		Content:        string(body),
		RawBytes:       body,
		ContentType:    resp.Header.Get("Content-Type"),
		StatusCode:     resp.StatusCode,
		DownloadTimeMS: elapsed,
		IsSuccess:      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		result.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return result, nil
}

func (d *HTTPDownloader) Shutdown() error {
	if d.client != nil {
		d.client.CloseIdleConnections()
	}
	return nil
}

func (d *HTTPDownloader) nextUserAgent(agents []string) string {
	if len(agents) == 0 {
		return "crawlerframework/1.0"
	}
	idx := d.uaIndex.Add(1) % int64(len(agents))
	return agents[idx]
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// ParseRetryAfter parses a Retry-After header, capped at 2 minutes,
// for callers classifying a 429 response.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 0
}
