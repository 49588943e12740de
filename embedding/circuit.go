package embedding

import (
	"log/slog"
	"sync"
	"time"
)

// circuitBreaker disables embedding calls after repeated provider failures.
// Unlike a three-state breaker, recovery is purely time-based: after the
// cool-down window the breaker closes and the failure count is zeroed.
type circuitBreaker struct {
	mu                  sync.Mutex
	consecutiveFailures int
	disabledUntil       time.Time

	failureThreshold int
	cooldown         time.Duration
}

func newCircuitBreaker(failureThreshold int, cooldown time.Duration) *circuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &circuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// allow reports whether a call may proceed, clearing an expired cool-down.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabledUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.disabledUntil) {
		return false
	}

	// Cool-down elapsed: close and start fresh.
	b.disabledUntil = time.Time{}
	b.consecutiveFailures = 0
	slog.Info("embedding: circuit closed after cool-down")
	return true
}

// recordFailure counts a failed or timed-out call, opening the circuit at
// the threshold.
func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold && b.disabledUntil.IsZero() {
		b.disabledUntil = time.Now().Add(b.cooldown)
		slog.Warn("embedding: circuit opened",
			"consecutive_failures", b.consecutiveFailures,
			"cooldown", b.cooldown)
	}
}

// recordSuccess resets the failure count immediately. One transient timeout
// must not keep pushing the breaker toward disablement once the provider
// has recovered.
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// open reports whether the circuit is currently rejecting calls.
func (b *circuitBreaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabledUntil.IsZero() && time.Now().Before(b.disabledUntil)
}
