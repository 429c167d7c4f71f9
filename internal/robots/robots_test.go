package robots

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsAllowedRespectsDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	}))
	defer srv.Close()

	g := New(testLogger(), "testbot")

	if !g.IsAllowed(srv.URL + "/public") {
		t.Fatalf("expected /public to be allowed")
	}
	if g.IsAllowed(srv.URL + "/private/page") {
		t.Fatalf("expected /private/page to be disallowed")
	}
}

func TestIsAllowedDefaultsOnFetchFailure(t *testing.T) {
	g := New(testLogger(), "testbot")
	if !g.IsAllowed("http://127.0.0.1:1/x") {
		t.Fatalf("expected fetch failure to default to allowed")
	}
}

func TestCrawlDelayParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nCrawl-delay: 2\n")
	}))
	defer srv.Close()

	g := New(testLogger(), "testbot")
	if delay := g.CrawlDelay(srv.URL + "/x"); delay.Seconds() != 2 {
		t.Fatalf("expected 2s crawl-delay, got %v", delay)
	}
}
