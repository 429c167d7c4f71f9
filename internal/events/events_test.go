package events

import (
	"testing"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

func TestSubscribeAndEmit(t *testing.T) {
	b := New()

	var got []CrawlerStatusChanged
	b.Subscribe("test", Handlers{
		OnCrawlerStatusChanged: func(e CrawlerStatusChanged) { got = append(got, e) },
	})

	b.EmitCrawlerStatusChanged(CrawlerStatusChanged{Previous: crawltypes.StatusIdle, Current: crawltypes.StatusRunning})

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Previous != crawltypes.StatusIdle || got[0].Current != crawltypes.StatusRunning {
		t.Fatalf("unexpected event payload: %+v", got[0])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe("test", Handlers{
		OnURLDiscovered: func(UrlDiscovered) { calls++ },
	})
	b.EmitURLDiscovered(UrlDiscovered{Source: "https://a.test/"})
	b.Unsubscribe("test")
	b.EmitURLDiscovered(UrlDiscovered{Source: "https://a.test/"})

	if calls != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", calls)
	}
}

func TestNilHandlerFieldsSkipped(t *testing.T) {
	b := New()
	b.Subscribe("partial", Handlers{
		OnCrawlError: func(CrawlError) {},
	})
	// Must not panic on handler fields the subscriber left nil.
	b.EmitCrawlCompleted(CrawlCompleted{})
	b.EmitURLDiscovered(UrlDiscovered{})
}
