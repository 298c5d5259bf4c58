package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conductorhq/conductor-go/graph"
)

// State enumerates a CircuitBreaker's lifecycle states.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerOptions configures failure/recovery thresholds.
type CircuitBreakerOptions struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Window           time.Duration
}

// DefaultCircuitBreakerOptions mirrors the defaults named in the original
// system's configuration surface.
func DefaultCircuitBreakerOptions() CircuitBreakerOptions {
	return CircuitBreakerOptions{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		Window:           60 * time.Second,
	}
}

// StateChange is emitted whenever the breaker transitions state.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

// CircuitBreaker guards a single named operation: closed lets calls
// through, open rejects them immediately, half_open probes recovery.
// Counters are updated with atomic operations, but every state check and
// every recorded success or failure also holds the mutex.
type CircuitBreaker struct {
	name string
	opts CircuitBreakerOptions

	mu               sync.Mutex
	state            State
	failureCount     int32
	successCount     int32
	windowStart      time.Time
	openedAt         time.Time
	onStateChange    func(StateChange)
}

// NewCircuitBreaker returns a closed CircuitBreaker named name.
func NewCircuitBreaker(name string, opts CircuitBreakerOptions, onStateChange func(StateChange)) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		opts:        opts,
		state:       StateClosed,
		windowStart: time.Now(),
		onStateChange: onStateChange,
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.opts.Timeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// Call invokes op if the circuit permits it. If the circuit is open,
// op is never invoked and a *graph.CircuitOpenError is returned.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	cb.mu.Lock()
	state := cb.currentStateLocked()
	if state == StateOpen {
		retryAfter := cb.opts.Timeout - time.Since(cb.openedAt)
		cb.mu.Unlock()
		return &graph.CircuitOpenError{Name: cb.name, RetryAfter: retryAfter.String()}
	}
	cb.mu.Unlock()

	err := op(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if time.Since(cb.windowStart) > cb.opts.Window {
		atomic.StoreInt32(&cb.failureCount, 0)
		cb.windowStart = time.Now()
	}

	if cb.state == StateHalfOpen {
		cb.transitionLocked(StateOpen)
		return
	}

	n := atomic.AddInt32(&cb.failureCount, 1)
	if cb.state == StateClosed && int(n) >= cb.opts.FailureThreshold {
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		n := atomic.AddInt32(&cb.successCount, 1)
		if int(n) >= cb.opts.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
		return
	}
	if cb.state == StateClosed {
		atomic.StoreInt32(&cb.failureCount, 0)
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		atomic.StoreInt32(&cb.failureCount, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&cb.successCount, 0)
	case StateClosed:
		atomic.StoreInt32(&cb.failureCount, 0)
		atomic.StoreInt32(&cb.successCount, 0)
		cb.windowStart = time.Now()
	}
	if cb.onStateChange != nil {
		change := StateChange{Name: cb.name, From: from, To: to, At: time.Now()}
		go cb.onStateChange(change)
	}
}
