package retry

import (
	"context"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/errs"
)

func singleAttemptPolicy() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = 1
	p.BaseDelay = time.Millisecond
	p.MaxDelay = time.Millisecond
	p.BreakerOpenTimeout = 50 * time.Millisecond
	p.GlobalRPS = 0
	p.MaxConcurrent = 0
	return p
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	m := New(singleAttemptPolicy(), nil)
	failingOp := func(ctx context.Context, attempt int) error {
		return errs.Network("timeout", "boom")
	}

	for i := 0; i < 5; i++ {
		err := m.Execute(context.Background(), "https://example.invalid/x", failingOp)
		if !errs.Is(err, errs.KindNetwork) {
			t.Fatalf("attempt %d: expected network error, got %v", i, err)
		}
	}

	// Sixth call: breaker open, no request issued.
	err := m.Execute(context.Background(), "https://example.invalid/x", failingOp)
	if !errs.Is(err, errs.KindCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
}

func TestCircuitHalfOpenThenCloses(t *testing.T) {
	m := New(singleAttemptPolicy(), nil)
	failingOp := func(ctx context.Context, attempt int) error {
		return errs.Network("timeout", "boom")
	}
	for i := 0; i < 5; i++ {
		_ = m.Execute(context.Background(), "https://example.invalid/x", failingOp)
	}
	snap := m.Snapshot("example.invalid")
	if snap.State != "open" {
		t.Fatalf("expected open, got %v", snap.State)
	}

	time.Sleep(60 * time.Millisecond)

	succeedOp := func(ctx context.Context, attempt int) error { return nil }
	if err := m.Execute(context.Background(), "https://example.invalid/x", succeedOp); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	snap = m.Snapshot("example.invalid")
	if snap.State != "closed" {
		t.Fatalf("expected closed after successful probe, got %v", snap.State)
	}
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 5
	m := New(p, nil)
	calls := 0
	op := func(ctx context.Context, attempt int) error {
		calls++
		return errs.New(errs.KindURLMalformed, "bad url")
	}
	err := m.Execute(context.Background(), "https://example.com/x", op)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for non-retryable error, got %d", calls)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 3
	p.BaseDelay = time.Millisecond
	p.MaxDelay = time.Millisecond
	m := New(p, nil)
	calls := 0
	op := func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errs.HTTPStatus(503)
		}
		return nil
	}
	if err := m.Execute(context.Background(), "https://example.com/x", op); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}
