package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conductorhq/conductor-go/graph"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	opts := DefaultCircuitBreakerOptions()
	opts.FailureThreshold = 2
	opts.Timeout = time.Hour
	cb := NewCircuitBreaker("svc", opts, nil)

	failing := func(ctx context.Context) error { return errors.New("boom") }

	if err := cb.Call(ctx, failing); err == nil {
		t.Fatalf("expected first call to fail")
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected still closed after 1 failure")
	}
	if err := cb.Call(ctx, failing); err == nil {
		t.Fatalf("expected second call to fail")
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after reaching threshold")
	}

	err := cb.Call(ctx, func(ctx context.Context) error { return nil })
	if _, ok := err.(*graph.CircuitOpenError); !ok {
		t.Fatalf("expected CircuitOpenError, got %T: %v", err, err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	ctx := context.Background()
	opts := DefaultCircuitBreakerOptions()
	opts.FailureThreshold = 1
	opts.SuccessThreshold = 1
	opts.Timeout = 10 * time.Millisecond
	cb := NewCircuitBreaker("svc2", opts, nil)

	_ = cb.Call(ctx, func(ctx context.Context) error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout elapsed")
	}

	if err := cb.Call(ctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success threshold met")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	opts := DefaultCircuitBreakerOptions()
	opts.FailureThreshold = 1
	opts.Timeout = 10 * time.Millisecond
	cb := NewCircuitBreaker("svc3", opts, nil)

	_ = cb.Call(ctx, func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open")
	}

	_ = cb.Call(ctx, func(ctx context.Context) error { return errors.New("still broken") })
	if cb.State() != StateOpen {
		t.Fatalf("expected reopened after half-open failure")
	}
}
