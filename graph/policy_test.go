package graph

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicyValidateRejectsZeroMaxAttempts(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 0}
	if err := rp.Validate(); !errors.Is(err, ErrInvalidRetryPolicy) {
		t.Fatalf("expected ErrInvalidRetryPolicy, got %v", err)
	}
}

func TestRetryPolicyValidateRejectsMaxDelayBelowBaseDelay(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Second}
	if err := rp.Validate(); !errors.Is(err, ErrInvalidRetryPolicy) {
		t.Fatalf("expected ErrInvalidRetryPolicy, got %v", err)
	}
}

func TestRetryPolicyValidateAcceptsZeroMaxDelayAsUncapped(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 0}
	if err := rp.Validate(); err != nil {
		t.Fatalf("expected MaxDelay=0 to mean uncapped, got %v", err)
	}
}

func TestRetryPolicyValidateAcceptsWellFormedPolicy(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	if err := rp.Validate(); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}
}

func TestComputeBackoffCapsAtMaxDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := time.Second
	maxDelay := 5 * time.Second

	delay := computeBackoff(10, base, maxDelay, rng)
	if delay < maxDelay {
		t.Fatalf("expected delay to be at least maxDelay after jitter, got %v", delay)
	}
	if delay >= maxDelay+base {
		t.Fatalf("expected delay to stay within maxDelay+base after jitter, got %v", delay)
	}
}

func TestComputeBackoffGrowsExponentiallyBeforeCap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := time.Second
	maxDelay := time.Hour

	d0 := computeBackoff(0, base, maxDelay, rng)
	d1 := computeBackoff(1, base, maxDelay, rng)
	d2 := computeBackoff(2, base, maxDelay, rng)

	if d0 < base || d0 >= 2*base {
		t.Fatalf("attempt 0 delay out of expected [1s,2s) range: %v", d0)
	}
	if d1 < 2*base || d1 >= 3*base {
		t.Fatalf("attempt 1 delay out of expected [2s,3s) range: %v", d1)
	}
	if d2 < 4*base || d2 >= 5*base {
		t.Fatalf("attempt 2 delay out of expected [4s,5s) range: %v", d2)
	}
}

func TestComputeBackoffIsDeterministicForSameSeed(t *testing.T) {
	a := computeBackoff(3, time.Second, 30*time.Second, rand.New(rand.NewSource(42)))
	b := computeBackoff(3, time.Second, 30*time.Second, rand.New(rand.NewSource(42)))
	if a != b {
		t.Fatalf("expected identical seeds to produce identical backoff, got %v vs %v", a, b)
	}
}
