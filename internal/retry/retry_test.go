package retry

import (
	"testing"
	"time"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

func testPolicy() config.RetryPolicyConfig {
	return config.RetryPolicyConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          60 * time.Second,
	}
}

func TestShouldRetryBasic(t *testing.T) {
	tr := New(testPolicy())

	retry, delay := tr.ShouldRetry("a.test", crawltypes.ErrorKindServer5xx, 0)
	if !retry {
		t.Fatalf("expected retry on first 5xx")
	}
	if delay <= 0 {
		t.Fatalf("expected positive backoff delay, got %d", delay)
	}
}

func TestShouldRetryNeverRetryKinds(t *testing.T) {
	tr := New(testPolicy())

	for _, kind := range []crawltypes.ErrorKind{crawltypes.ErrorKindUnauthorized, crawltypes.ErrorKindDNS, crawltypes.ErrorKindSecurity} {
		retry, _ := tr.ShouldRetry("b.test", kind, 0)
		if retry {
			t.Fatalf("expected kind %v to never retry", kind)
		}
	}
}

func TestBadGatewayAllowsOneMoreRetryThanGeneric5xx(t *testing.T) {
	tr := New(testPolicy())

	// Generic 5xx caps at 2 retries.
	if retry, _ := tr.ShouldRetry("a.test", crawltypes.ErrorKindServer5xx, 2); retry {
		t.Fatalf("expected generic 5xx to stop at retry_count=2")
	}
	// 502 allows a third.
	if retry, _ := tr.ShouldRetry("b.test", crawltypes.ErrorKindBadGateway, 2); !retry {
		t.Fatalf("expected 502 to still retry at retry_count=2")
	}
}

func TestCircuitOpensAfterTenConsecutiveErrors(t *testing.T) {
	tr := New(testPolicy())

	for i := 0; i < 10; i++ {
		tr.ShouldRetry("c.test", crawltypes.ErrorKindConnection, 0)
	}

	if !tr.IsCircuitOpen("c.test") {
		t.Fatalf("expected circuit open after 10 consecutive errors")
	}

	retry, delay := tr.ShouldRetry("c.test", crawltypes.ErrorKindConnection, 0)
	if retry || delay != 0 {
		t.Fatalf("expected no retry while circuit open, got retry=%v delay=%d", retry, delay)
	}
}

func TestCircuitHalfOpenRecoversAfterCooldown(t *testing.T) {
	tr := New(testPolicy())
	info := tr.entry("d.test")
	info.CircuitState = crawltypes.CircuitOpen
	info.CircuitOpenedAt = time.Now().Add(-circuitCooldown - time.Second)

	tr.ShouldRetry("d.test", crawltypes.ErrorKindConnection, 0)
	if tr.Stats("d.test").CircuitState != crawltypes.CircuitHalfOpen {
		t.Fatalf("expected transition to half-open after cooldown")
	}

	tr.RecordSuccess("d.test")
	tr.RecordSuccess("d.test")
	if tr.Stats("d.test").CircuitState != crawltypes.CircuitClosed {
		t.Fatalf("expected circuit closed after two half-open successes")
	}
	if tr.Stats("d.test").ConsecutiveErrors != 0 {
		t.Fatalf("expected consecutive errors reset to 0 after recovery cycle")
	}
}

func TestRecordSuccessResetsConsecutiveErrors(t *testing.T) {
	tr := New(testPolicy())
	tr.ShouldRetry("e.test", crawltypes.ErrorKindIO, 0)
	tr.RecordSuccess("e.test")

	if tr.Stats("e.test").ConsecutiveErrors != 0 {
		t.Fatalf("expected consecutive errors reset after success")
	}
}

func BenchmarkShouldRetry(b *testing.B) {
	tr := New(testPolicy())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.ShouldRetry("bench.test", crawltypes.ErrorKindServer5xx, i%3)
	}
}
