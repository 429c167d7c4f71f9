package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// BrowserDownloader is the alternate Downloader plugin: a headless
// Chromium driven via go-rod, patched with go-rod/stealth to survive
// basic fingerprinting. It sorts ahead of HTTPDownloader in the
// dispatcher chain, and navigation failures fall through to plain
// HTTP rather than failing the request.
type BrowserDownloader struct {
	logger   *slog.Logger
	browser  *rod.Browser
	pagePool chan *rod.Page
	maxPages int
	stealth  bool
}

// NewBrowserDownloader builds a BrowserDownloader. maxPages bounds the
// number of pooled browser tabs; stealthMode applies stealth.Page
// patches to every navigation.
func NewBrowserDownloader(logger *slog.Logger, maxPages int, stealthMode bool) *BrowserDownloader {
	if maxPages < 1 {
		maxPages = 4
	}
	return &BrowserDownloader{
		logger:   logger.With("component", "browser_downloader"),
		maxPages: maxPages,
		stealth:  stealthMode,
	}
}

func (b *BrowserDownloader) Name() string  { return "browser" }
func (b *BrowserDownloader) Priority() int { return 10 }

func (b *BrowserDownloader) Initialize(ctx context.Context) error {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	launchURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}

	b.browser = browser
	b.pagePool = make(chan *rod.Page, b.maxPages)
	b.logger.Info("browser downloader ready", "max_pages", b.maxPages, "stealth", b.stealth)
	return nil
}

// Download navigates to req.URL in a pooled tab (in stealth mode, in a
// freshly created stealth-patched tab instead) and returns the
// rendered DOM. Navigation failures return a DownloadResult with
// IsSuccess=false rather than an error so the dispatcher can fall
// through to the next Downloader in the chain.
func (b *BrowserDownloader) Download(ctx context.Context, req *crawltypes.CrawlRequest) (*crawltypes.DownloadResult, error) {
	start := time.Now()

	page, err := b.getPage()
	if err != nil {
		return &crawltypes.DownloadResult{URL: req.URL.String(), IsSuccess: false, ErrorMessage: err.Error()}, nil
	}
	defer b.putPage(page)

	if b.stealth {
		stealthPage, err := stealth.Page(b.browser)
		if err != nil {
			return &crawltypes.DownloadResult{URL: req.URL.String(), IsSuccess: false, ErrorMessage: fmt.Errorf("stealth page: %w", err).Error()}, nil
		}
		page = stealthPage
	}

	timeout := 30 * time.Second
	if req.Config != nil && req.Config.Basic.TimeoutSeconds > 0 {
		timeout = req.Config.Basic.TimeoutSeconds
	}

	if err := page.Timeout(timeout).Navigate(req.URL.String()); err != nil {
		return &crawltypes.DownloadResult{URL: req.URL.String(), IsSuccess: false, ErrorMessage: err.Error(), DownloadTimeMS: time.Since(start).Milliseconds()}, nil
	}

	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		b.logger.Warn("page stability timeout, continuing", "url", req.URL.String(), "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return &crawltypes.DownloadResult{URL: req.URL.String(), IsSuccess: false, ErrorMessage: err.Error(), DownloadTimeMS: time.Since(start).Milliseconds()}, nil
	}

	finalURL := req.URL.String()
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	return &crawltypes.DownloadResult{
		URL:            finalURL,
		Content:        html,
		RawBytes:       []byte(html),
		ContentType:    "text/html",
		StatusCode:     200, // rod does not expose the navigation response status directly
		DownloadTimeMS: time.Since(start).Milliseconds(),
		IsSuccess:      true,
	}, nil
}

func (b *BrowserDownloader) Shutdown() error {
	if b.pagePool != nil {
		close(b.pagePool)
		for page := range b.pagePool {
			_ = page.Close()
		}
	}
	if b.browser != nil {
		return b.browser.Close()
	}
	return nil
}

func (b *BrowserDownloader) getPage() (*rod.Page, error) {
	select {
	case page := <-b.pagePool:
		return page, nil
	default:
		return b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
}

func (b *BrowserDownloader) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case b.pagePool <- page:
	default:
		_ = page.Close()
	}
}
