// Package resilience provides cross-cutting fault-tolerance primitives:
// retries, circuit breakers, a dead-letter queue, and saga orchestration,
// all usable independently of the workflow engine.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("resilience: invalid retry policy")

// RetryPolicy is the standalone counterpart to graph.RetryPolicy, shared
// by protocol.Pool's Acquire and by saga steps. DeadLetterQueue computes
// its own retry delay and does not use it.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      bool
	Retryable   func(error) bool
}

// Validate mirrors graph.RetryPolicy.Validate's constraints.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) multiplier() float64 {
	if rp.Multiplier > 0 {
		return rp.Multiplier
	}
	return 2.0
}

// ComputeBackoff returns the delay before retry attempt n (0-based), per
// attempt n waits min(max_delay, base_delay * multiplier^n) plus optional
// jitter, following graph.computeBackoff's shape but exported for reuse
// outside the engine.
func ComputeBackoff(rp *RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	delay := float64(rp.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= rp.multiplier()
	}
	d := time.Duration(delay)
	if rp.MaxDelay > 0 && d > rp.MaxDelay {
		d = rp.MaxDelay
	}
	if rp.Jitter {
		source := rng
		if source == nil {
			source = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		if rp.BaseDelay > 0 {
			d += time.Duration(source.Int63n(int64(rp.BaseDelay)))
		}
	}
	return d
}

// Do runs fn, retrying per rp until it succeeds, a non-retryable error is
// returned, MaxAttempts is exhausted, or ctx is cancelled. The retry delay
// is applied at the call site only, never propagated to fn.
func Do(ctx context.Context, rp *RetryPolicy, rng *rand.Rand, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(rp, attempt-1, rng)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if rp.Retryable != nil && !rp.Retryable(err) {
			return err
		}
	}
	return lastErr
}
