// Package retry implements the per-domain retry decision and circuit
// breaker: tracking consecutive/total failures per origin, deciding
// whether a failed request should be retried and with what backoff,
// and tripping a three-state circuit breaker when a domain is
// persistently broken.
package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

const (
	circuitOpenThreshold  = 10
	circuitCooldown       = 30 * time.Second
	halfOpenSuccessNeeded = 2
	halfOpenAttemptLimit  = 3
	successWindow         = 5 * time.Minute
)

// errorPolicy is one row of the error-kind retry table.
type errorPolicy struct {
	cap          int
	tightenedCap int
	tightenAbove int
	backoffScale float64
	neverRetry   bool
}

var policies = map[crawltypes.ErrorKind]errorPolicy{
	crawltypes.ErrorKindRateLimit:    {cap: 2, tightenedCap: 1, tightenAbove: 3, backoffScale: 3.0},
	crawltypes.ErrorKindServer5xx:    {cap: 2, tightenedCap: 1, tightenAbove: 5},
	crawltypes.ErrorKindBadGateway:   {cap: 3, tightenedCap: 1, tightenAbove: 5},
	crawltypes.ErrorKindUnauthorized: {neverRetry: true},
	crawltypes.ErrorKindTimeout:      {cap: 3, tightenedCap: 1, tightenAbove: 3},
	crawltypes.ErrorKindConnection:   {cap: 2},
	crawltypes.ErrorKindDNS:          {neverRetry: true},
	crawltypes.ErrorKindSecurity:     {neverRetry: true},
	crawltypes.ErrorKindIO:           {cap: 2},
	crawltypes.ErrorKindOther:        {cap: 2, tightenedCap: 1, tightenAbove: 5},
}

func (p errorPolicy) effectiveCap(consecutiveErrors int) int {
	if p.tightenAbove > 0 && consecutiveErrors > p.tightenAbove {
		return p.tightenedCap
	}
	return p.cap
}

// Tracker owns every DomainRetryInfo entry for a job; it is the sole
// writer of circuit and error-ledger state, and other components read
// it only through Stats snapshots.
type Tracker struct {
	mu      sync.Mutex
	domains map[string]*crawltypes.DomainRetryInfo
	base    config.RetryPolicyConfig
}

// New builds a Tracker seeded with the configured base retry policy.
func New(base config.RetryPolicyConfig) *Tracker {
	return &Tracker{
		domains: make(map[string]*crawltypes.DomainRetryInfo),
		base:    base,
	}
}

func (t *Tracker) entry(domain string) *crawltypes.DomainRetryInfo {
	info, ok := t.domains[domain]
	if !ok {
		info = &crawltypes.DomainRetryInfo{
			Domain:          domain,
			CircuitState:    crawltypes.CircuitClosed,
			ErrorKindCounts: make(map[crawltypes.ErrorKind]int64),
		}
		t.domains[domain] = info
	}
	return info
}

// effectiveMaxRetries implements the tiered base-retry ceiling: 1 if
// consecutive_errors>5, 2 if >2, otherwise the configured base.
func effectiveMaxRetries(info *crawltypes.DomainRetryInfo, base int) int {
	switch {
	case info.ConsecutiveErrors > 5:
		return 1
	case info.ConsecutiveErrors > 2:
		return 2
	default:
		return base
	}
}

// ShouldRetry decides whether a failed request should be retried and,
// if so, the backoff delay in milliseconds. It also advances the
// circuit breaker and error-ledger state as a side effect of
// observing this failure.
func (t *Tracker) ShouldRetry(domain string, kind crawltypes.ErrorKind, currentRetryCount int) (retry bool, delayMS int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := t.entry(domain)
	now := time.Now()

	info.ConsecutiveErrors++
	info.TotalErrors++
	info.LastErrorAt = now
	info.LastErrorKind = kind
	info.ErrorKindCounts[kind]++

	t.advanceCircuit(info, now)

	if info.CircuitState == crawltypes.CircuitOpen {
		return false, 0
	}

	maxRetries := effectiveMaxRetries(info, t.base.MaxRetries)
	if currentRetryCount >= maxRetries {
		return false, 0
	}
	if info.ConsecutiveErrors >= circuitOpenThreshold {
		return false, 0
	}
	if !info.LastSuccessAt.IsZero() && now.Sub(info.LastSuccessAt) < successWindow && currentRetryCount >= 1 {
		return false, 0
	}

	policy, ok := policies[kind]
	if !ok {
		policy = policies[crawltypes.ErrorKindOther]
	}
	if policy.neverRetry {
		return false, 0
	}
	if currentRetryCount >= policy.effectiveCap(info.ConsecutiveErrors) {
		return false, 0
	}

	return true, backoffDelayMS(currentRetryCount, info.ConsecutiveErrors, kind, t.base)
}

// backoffDelayMS computes delay_ms = (2^retry x base) x error_multiplier + jitter.
func backoffDelayMS(currentRetryCount, consecutiveErrors int, kind crawltypes.ErrorKind, base config.RetryPolicyConfig) int64 {
	multiplier := 1.0
	switch {
	case consecutiveErrors > 5:
		multiplier = 2.0
	case consecutiveErrors > 2:
		multiplier = 1.5
	}
	if p, ok := policies[kind]; ok && p.backoffScale > 0 {
		// Rate-limit responses force a harsher multiplier regardless
		// of the domain's error history.
		multiplier = p.backoffScale
	}

	initial := base.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	delay := float64(int64(1)<<uint(currentRetryCount)) * float64(initial.Milliseconds()) * multiplier
	jitter := rand.Float64() * 500

	maxDelay := base.MaxDelay
	if maxDelay > 0 && time.Duration(delay)*time.Millisecond > maxDelay {
		delay = float64(maxDelay.Milliseconds())
	}
	return int64(delay + jitter)
}

// advanceCircuit runs the Closed/Open/HalfOpen transitions. Caller
// must hold t.mu.
func (t *Tracker) advanceCircuit(info *crawltypes.DomainRetryInfo, now time.Time) {
	switch info.CircuitState {
	case crawltypes.CircuitClosed:
		if info.ConsecutiveErrors >= circuitOpenThreshold {
			info.CircuitState = crawltypes.CircuitOpen
			info.CircuitOpenedAt = now
		}
	case crawltypes.CircuitOpen:
		if now.Sub(info.CircuitOpenedAt) > circuitCooldown {
			info.CircuitState = crawltypes.CircuitHalfOpen
			info.HalfOpenAttempts = 0
			info.HalfOpenSuccesses = 0
		}
	case crawltypes.CircuitHalfOpen:
		info.HalfOpenAttempts++
		if info.HalfOpenAttempts >= halfOpenAttemptLimit && info.HalfOpenSuccesses < halfOpenSuccessNeeded {
			info.CircuitState = crawltypes.CircuitOpen
			info.CircuitOpenedAt = now
		}
	}
}

// RecordSuccess resets the domain's consecutive-error count and may
// close a half-open circuit.
func (t *Tracker) RecordSuccess(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := t.entry(domain)
	now := time.Now()
	info.TotalSuccess++
	info.LastSuccessAt = now
	info.ConsecutiveErrors = 0

	switch info.CircuitState {
	case crawltypes.CircuitHalfOpen:
		info.HalfOpenSuccesses++
		if info.HalfOpenSuccesses >= halfOpenSuccessNeeded {
			info.CircuitState = crawltypes.CircuitClosed
		}
	case crawltypes.CircuitOpen:
		// Unexpected success observation while open; defensive reset.
		info.CircuitState = crawltypes.CircuitClosed
	}
}

// Stats returns a read-only snapshot of a domain's ledger, or nil if
// the domain has never been observed.
func (t *Tracker) Stats(domain string) *crawltypes.DomainRetryInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.domains[domain]
	if !ok {
		return nil
	}
	snap := *info
	snap.ErrorKindCounts = make(map[crawltypes.ErrorKind]int64, len(info.ErrorKindCounts))
	for k, v := range info.ErrorKindCounts {
		snap.ErrorKindCounts[k] = v
	}
	return &snap
}

// Reset clears a domain's ledger, for operator-initiated manual
// recovery.
func (t *Tracker) Reset(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.domains, domain)
}

// IsCircuitOpen reports whether retry admissions for domain are
// currently suppressed by an open circuit, without mutating state.
func (t *Tracker) IsCircuitOpen(domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.domains[domain]
	if !ok {
		return false
	}
	return info.CircuitState == crawltypes.CircuitOpen
}
