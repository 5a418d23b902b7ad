package retry

import (
	"context"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/model"
)

// Policy configures backoff, timeouts, and the circuit breaker.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Jitter          float64 // fraction, e.g. 0.1 for ±10%
	BaseAttemptTimeout time.Duration
	MaxAttemptTimeout  time.Duration
	BreakerOpenTimeout time.Duration
	GlobalRPS       float64
	MaxConcurrent   int
}

// DefaultPolicy matches the spec §4.3/§5 defaults (5 concurrent, ~8 rps).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        4,
		BaseDelay:          200 * time.Millisecond,
		MaxDelay:           10 * time.Second,
		Jitter:             0.1,
		BaseAttemptTimeout: 10 * time.Second,
		MaxAttemptTimeout:  30 * time.Second,
		BreakerOpenTimeout: 30 * time.Second,
		GlobalRPS:          8,
		MaxConcurrent:      5,
	}
}

// Stats are observable, not load-bearing for correctness (spec §4.3).
type Stats struct {
	Attempts   int
	Failures   int
	Successes  int
	CircuitOpenRejections int
}

// Manager is the process-wide Retry Manager. Its circuit-breaker map is
// process-wide per spec §3 "Ownership".
type Manager struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*breaker
	stats    map[string]*Stats

	limiter *rate.Limiter
	sem     chan struct{}

	onEvent func(domain, event string)
}

// New builds a Manager. onEvent, if non-nil, is invoked on breaker open/
// close transitions (mirrors the teacher's injected emitEvent callback).
func New(policy Policy, onEvent func(domain, event string)) *Manager {
	m := &Manager{
		policy:   policy,
		breakers: make(map[string]*breaker),
		stats:    make(map[string]*Stats),
		onEvent:  onEvent,
	}
	if policy.GlobalRPS > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(policy.GlobalRPS), int(math.Max(1, policy.GlobalRPS)))
	}
	if policy.MaxConcurrent > 0 {
		m.sem = make(chan struct{}, policy.MaxConcurrent)
	}
	return m
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

func (m *Manager) breakerFor(domain string) *breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[domain]
	if !ok {
		timeout := m.policy.BreakerOpenTimeout
		b = newBreaker(domain, func() time.Duration { return timeout }, m.onEvent)
		m.breakers[domain] = b
		m.stats[domain] = &Stats{}
	}
	return b
}

// Snapshot returns the current breaker state for a domain, or the zero
// value (closed) if none has been recorded.
func (m *Manager) Snapshot(domain string) model.CircuitBreakerState {
	m.mu.Lock()
	b, ok := m.breakers[domain]
	m.mu.Unlock()
	if !ok {
		return model.CircuitBreakerState{Domain: domain, State: model.CircuitClosed}
	}
	return b.snapshot()
}

// StatsFor returns a copy of the accumulated stats for a domain.
func (m *Manager) StatsFor(domain string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[domain]; ok {
		return *s
	}
	return Stats{}
}

// Op is the operation the Retry Manager executes under retry, one HTTP
// attempt per call with the given attempt-scoped context.
type Op func(ctx context.Context, attempt int) error

// Execute implements execute_with_retry(op, context) -> result (spec
// §4.3). urlForDomain supplies the domain the circuit breaker and rate
// limiter key on.
func (m *Manager) Execute(ctx context.Context, urlForDomain string, op Op) error {
	domain := domainOf(urlForDomain)
	b := m.breakerFor(domain)

	if !b.allow() {
		m.mu.Lock()
		m.stats[domain].CircuitOpenRejections++
		m.mu.Unlock()
		return errs.New(errs.KindCircuitOpen, "circuit open for "+domain)
	}

	maxAttempts := m.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := m.waitForSlot(ctx); err != nil {
			return errs.Wrap(errs.KindCancelled, "rate-limit wait cancelled", err)
		}

		attemptTimeout := m.attemptTimeout(attempt)
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := op(attemptCtx, attempt)
		cancel()

		m.mu.Lock()
		m.stats[domain].Attempts++
		m.mu.Unlock()

		if err == nil {
			b.recordSuccess()
			m.mu.Lock()
			m.stats[domain].Successes++
			m.mu.Unlock()
			return nil
		}

		lastErr = err
		m.mu.Lock()
		m.stats[domain].Failures++
		m.mu.Unlock()

		if !errs.Retryable(err) {
			b.recordFailure()
			return err
		}
		b.recordFailure()

		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(m.backoffDelay(attempt)):
		case <-ctx.Done():
			return errs.Wrap(errs.KindCancelled, "retry wait cancelled", ctx.Err())
		}

		// A breaker that just opened (fifth consecutive failure) must stop
		// further attempts immediately rather than exhausting the budget.
		if !b.allow() {
			return errs.New(errs.KindCircuitOpen, "circuit open for "+domain)
		}
	}
	return lastErr
}

func (m *Manager) waitForSlot(ctx context.Context) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// attemptTimeout grows modestly with attempt index, bounded by
// MaxAttemptTimeout (spec §4.3).
func (m *Manager) attemptTimeout(attempt int) time.Duration {
	d := m.policy.BaseAttemptTimeout * time.Duration(attempt)
	if d > m.policy.MaxAttemptTimeout {
		return m.policy.MaxAttemptTimeout
	}
	return d
}

// backoffDelay computes exponential backoff with bounded jitter (spec
// §4.3).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	base := float64(m.policy.BaseDelay)
	delay := base * math.Pow(2, float64(attempt-1))
	if max := float64(m.policy.MaxDelay); delay > max {
		delay = max
	}
	if m.policy.Jitter > 0 {
		jitterRange := delay * m.policy.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}
