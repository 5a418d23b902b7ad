// Package retry implements the Retry Manager (spec §4.3): per-domain
// exponential backoff, a circuit breaker, and optional global rate
// limiting. The breaker's state machine is grounded on the teacher's
// internal/capture/circuit_breaker.go (its own RWMutex, streak-based
// transitions, injected event-emission callback) generalized from a
// 1-second ingest-rate trigger to the spec's consecutive-failure trigger.
package retry

import (
	"sync"
	"time"

	"github.com/webmirror/webmirror/internal/model"
)

// breakerThreshold is the consecutive-failure count spec §4.3 and §8
// reference as "threshold" before the breaker opens.
const breakerThreshold = 5

// minFailureRate is the failure-rate floor required to open the breaker
// alongside the consecutive-failure count (spec §4.3: "failure rate >
// 0.5").
const minFailureRate = 0.5

// breaker is one domain's circuit breaker. Like the teacher's
// CircuitBreaker, it owns its own mutex independent of any owning
// collection's lock.
type breaker struct {
	mu sync.RWMutex

	state               model.CircuitState
	consecutiveFailures int
	totalAttempts       int
	totalFailures       int
	openedAt            time.Time
	halfOpenProbeInFlight bool

	openTimeout func() time.Duration

	emit func(domain string, event string)
	domain string
}

func newBreaker(domain string, openTimeout func() time.Duration, emit func(string, string)) *breaker {
	return &breaker{
		state:       model.CircuitClosed,
		openTimeout: openTimeout,
		emit:        emit,
		domain:      domain,
	}
}

// allow reports whether a call may proceed, transitioning open->half-open
// after the timeout elapses (spec §4.3, §8 "never skips to half-open").
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.CircuitClosed:
		return true
	case model.CircuitOpen:
		if time.Since(b.openedAt) >= b.openTimeout() {
			b.state = model.CircuitHalfOpen
			b.halfOpenProbeInFlight = true
			return true
		}
		return false
	case model.CircuitHalfOpen:
		if b.halfOpenProbeInFlight {
			return false // only one probe in flight at a time
		}
		b.halfOpenProbeInFlight = true
		return true
	}
	return true
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalAttempts++
	b.consecutiveFailures = 0
	b.halfOpenProbeInFlight = false
	if b.state != model.CircuitClosed {
		b.state = model.CircuitClosed
		if b.emit != nil {
			b.emit(b.domain, "circuit_closed")
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalAttempts++
	b.totalFailures++
	b.consecutiveFailures++
	b.halfOpenProbeInFlight = false

	if b.state == model.CircuitHalfOpen {
		// A failed probe re-opens the breaker immediately.
		b.state = model.CircuitOpen
		b.openedAt = time.Now()
		if b.emit != nil {
			b.emit(b.domain, "circuit_opened")
		}
		return
	}

	if b.state == model.CircuitClosed &&
		b.consecutiveFailures >= breakerThreshold &&
		b.failureRateLocked() > minFailureRate {
		b.state = model.CircuitOpen
		b.openedAt = time.Now()
		if b.emit != nil {
			b.emit(b.domain, "circuit_opened")
		}
	}
}

func (b *breaker) failureRateLocked() float64 {
	if b.totalAttempts == 0 {
		return 0
	}
	return float64(b.totalFailures) / float64(b.totalAttempts)
}

func (b *breaker) snapshot() model.CircuitBreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return model.CircuitBreakerState{
		Domain:              b.domain,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.openedAt,
	}
}
