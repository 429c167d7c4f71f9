package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

func newTestFrontier() *Frontier {
	cfg := config.DefaultConfig()
	cfg.Basic.RequestDelay = 0
	return New(cfg)
}

func mustRequest(t *testing.T, raw string, priority int) *crawltypes.CrawlRequest {
	t.Helper()
	req, err := crawltypes.NewCrawlRequest(raw, 0, priority, "", nil)
	if err != nil {
		t.Fatalf("NewCrawlRequest(%q): %v", raw, err)
	}
	return req
}

func TestAddRejectsDuplicate(t *testing.T) {
	f := newTestFrontier()

	if !f.Add(mustRequest(t, "https://a.test/x", crawltypes.SeedPriority)) {
		t.Fatalf("expected first admission to succeed")
	}
	if f.Add(mustRequest(t, "https://a.test/x", crawltypes.SeedPriority)) {
		t.Fatalf("expected duplicate admission to be rejected")
	}
	if f.Add(mustRequest(t, "https://A.test/x", crawltypes.SeedPriority)) {
		t.Fatalf("expected case-insensitive host duplicate to be rejected")
	}
}

func TestPopOrdersByPriority(t *testing.T) {
	f := newTestFrontier()
	f.Add(mustRequest(t, "https://a.test/low", 1))
	f.Add(mustRequest(t, "https://a.test/high", 9))

	req, ok := f.TryPop()
	if !ok || req.URL.Path != "/high" {
		t.Fatalf("expected higher priority request first, got %+v ok=%v", req, ok)
	}
}

func TestDomainFiltering(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains.AllowedDomains = []string{"allowed.test"}
	cfg.Domains.BlockedPatterns = []string{`/private`}
	f := New(cfg)

	if f.Add(mustRequest(t, "https://blocked.test/x", 1)) {
		t.Fatalf("expected domain not in allow-list to be rejected")
	}
	if f.Add(mustRequest(t, "https://allowed.test/private", 1)) {
		t.Fatalf("expected blocked pattern to be rejected")
	}
	if !f.Add(mustRequest(t, "https://allowed.test/public", 1)) {
		t.Fatalf("expected allowed domain and path to be admitted")
	}
}

func TestPopBlocksUntilAdd(t *testing.T) {
	f := newTestFrontier()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan *crawltypes.CrawlRequest, 1)
	go func() {
		req, _ := f.Pop(ctx)
		done <- req
	}()

	time.Sleep(20 * time.Millisecond)
	f.Add(mustRequest(t, "https://a.test/x", 1))

	select {
	case req := <-done:
		if req == nil {
			t.Fatalf("expected a request, got nil")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop did not return after Add")
	}
}

func TestPopReturnsFalseWhenClosedAndEmpty(t *testing.T) {
	f := newTestFrontier()
	f.Close()
	ctx := context.Background()
	if _, ok := f.Pop(ctx); ok {
		t.Fatalf("expected Pop on closed empty frontier to return false")
	}
}

func TestReadmitBypassesDedup(t *testing.T) {
	f := newTestFrontier()
	req := mustRequest(t, "https://a.test/x", crawltypes.SeedPriority)

	if !f.Add(req) {
		t.Fatalf("expected initial admission")
	}
	if _, ok := f.TryPop(); !ok {
		t.Fatalf("expected pop of admitted request")
	}

	retry := req.Clone()
	retry.RetryCount++
	if !f.Readmit(retry) {
		t.Fatalf("expected retry re-admission to bypass dedup")
	}
	popped, ok := f.TryPop()
	if !ok || popped.RetryCount != 1 {
		t.Fatalf("expected readmitted request back, got %+v ok=%v", popped, ok)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	cases := []string{
		"HTTPS://Example.COM:443/Path?b=2&a=1#frag",
		"http://example.com:80/",
	}
	for _, c := range cases {
		once, err := Canonicalize(c)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", c, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("canonicalization not idempotent: %q != %q", once, twice)
		}
	}
}

func BenchmarkFrontierAddPop(b *testing.B) {
	cfg := config.DefaultConfig()
	cfg.Basic.RequestDelay = 0
	f := New(cfg)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req, _ := crawltypes.NewCrawlRequest("https://bench.test/p", 0, 1, "", nil)
		f.Add(req)
		f.TryPop()
	}
}
