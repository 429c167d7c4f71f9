package workerpool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFrontier struct {
	mu    sync.Mutex
	items []*crawltypes.CrawlRequest
}

func (f *fakeFrontier) push(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.items = append(f.items, &crawltypes.CrawlRequest{})
	}
}

func (f *fakeFrontier) TryPop() (*crawltypes.CrawlRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, false
	}
	req := f.items[0]
	f.items = f.items[1:]
	return req, true
}

func (f *fakeFrontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func TestPoolProcessesQueuedRequests(t *testing.T) {
	fr := &fakeFrontier{}
	fr.push(5)

	var processed atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(discardLogger(), fr, func(ctx context.Context, req *crawltypes.CrawlRequest) {
		processed.Add(1)
	}, Config{InitialWorkers: 2, MinWorkers: 1, MaxWorkers: 4, HighWatermark: 50, LowWatermark: 10, AdjustInterval: time.Hour})

	p.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for processed.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := processed.Load(); got != 5 {
		t.Fatalf("expected 5 requests processed, got %d", got)
	}
}

func TestPoolPauseStopsProcessing(t *testing.T) {
	fr := &fakeFrontier{}
	var processed atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(discardLogger(), fr, func(ctx context.Context, req *crawltypes.CrawlRequest) {
		processed.Add(1)
	}, Config{InitialWorkers: 1, MinWorkers: 1, MaxWorkers: 1, HighWatermark: 50, LowWatermark: 10, AdjustInterval: time.Hour})

	p.Start(ctx)
	p.Pause()
	fr.push(3)
	time.Sleep(150 * time.Millisecond)
	if processed.Load() != 0 {
		t.Fatalf("expected no processing while paused, got %d", processed.Load())
	}

	p.Resume()
	deadline := time.Now().Add(time.Second)
	for processed.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if processed.Load() != 3 {
		t.Fatalf("expected processing to resume, got %d", processed.Load())
	}
}

func TestPoolScalesUpUnderQueuePressure(t *testing.T) {
	fr := &fakeFrontier{}
	fr.push(200)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	p := New(discardLogger(), fr, func(ctx context.Context, req *crawltypes.CrawlRequest) {
		<-block
	}, Config{InitialWorkers: 1, MinWorkers: 1, MaxWorkers: 8, HighWatermark: 10, LowWatermark: 2, AdjustInterval: 20 * time.Millisecond})

	p.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for p.WorkerCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.WorkerCount() < 2 {
		t.Fatalf("expected worker pool to scale up past 1, got %d", p.WorkerCount())
	}
	close(block)
}
