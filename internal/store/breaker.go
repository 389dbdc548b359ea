package store

import (
	"sync"
	"time"
)

// circuitBreaker fails long-term storage calls fast after repeated errors
// so the ingest and interaction paths never stack up behind a dead
// database. Half-open after the cooldown, one probe decides.
type circuitBreaker struct {
	maxFailures int
	cooldown    time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, cooldown: cooldown}
}

// allow reports whether a call may proceed.
func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	// Half-open probe once the cooldown has passed.
	return time.Since(cb.lastFailure) > cb.cooldown
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.open = false
	cb.mu.Unlock()
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.open = true
	}
	cb.mu.Unlock()
}
