package protocol

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/conductorhq/conductor-go/graph"
	"github.com/conductorhq/conductor-go/resilience"
)

// Factory creates a new Transport connection to a single endpoint.
type Factory func(ctx context.Context) (Transport, error)

// HealthCheck reports whether a connection is still usable.
type HealthCheck func(ctx context.Context, t Transport) bool

// PoolOptions bounds a Pool's size and timeouts.
type PoolOptions struct {
	Min               int
	Max               int
	AcquireTimeout    time.Duration
	ConnectTimeout    time.Duration
	MaxIdleTime       time.Duration
	HealthCheckPeriod time.Duration
	MaxRetryAttempts  int
}

// DefaultPoolOptions mirrors spec.md §6's pool.{min,max,...} defaults.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Min:               1,
		Max:               8,
		AcquireTimeout:    5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		MaxIdleTime:       5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		MaxRetryAttempts:  5,
	}
}

type pooledConn struct {
	transport Transport
	lastUsed  time.Time
	opCount   int64
}

// Pool holds up to Max connections to a single endpoint, created lazily
// via factory. Min is not enforced: no connections are opened in advance,
// and idle ones can be evicted below it. Acquire takes an idle connection
// or creates one, retrying up to MaxRetryAttempts times within
// AcquireTimeout.
type Pool struct {
	factory Factory
	health  HealthCheck
	opts    PoolOptions

	mu    sync.Mutex
	idle  []*pooledConn
	count int

	stopCh chan struct{}
}

// NewPool returns a Pool that lazily creates connections via factory, up
// to opts.Max, health-checked by health (may be nil to skip checks).
func NewPool(factory Factory, health HealthCheck, opts PoolOptions) *Pool {
	p := &Pool{factory: factory, health: health, opts: opts, stopCh: make(chan struct{})}
	if opts.HealthCheckPeriod > 0 {
		go p.healthCheckLoop()
	}
	return p
}

// Acquire returns a connection, creating one (with retried backoff) if
// none are idle and the pool has room, or waiting for one to free up
// otherwise. Failing AcquireTimeout returns a *graph.ConnectionPoolError.
func (p *Pool) Acquire(ctx context.Context) (Transport, error) {
	deadline := time.Now().Add(p.opts.AcquireTimeout)
	acquireCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	rp := &resilience.RetryPolicy{
		MaxAttempts: p.opts.MaxRetryAttempts,
		BaseDelay:   50 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    2 * time.Second,
		Jitter:      true,
		Retryable:   func(error) bool { return true },
	}

	var conn Transport
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	err := resilience.Do(acquireCtx, rp, rng, func(ctx context.Context) error {
		c, err := p.tryAcquire(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, &graph.ConnectionPoolError{Reason: "acquire timed out or exhausted retries", Cause: err}
	}
	return conn, nil
}

func (p *Pool) tryAcquire(ctx context.Context) (Transport, error) {
	p.mu.Lock()
	if len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()
		pc.opCount++
		return pc.transport, nil
	}
	if p.count >= p.opts.Max {
		p.mu.Unlock()
		return nil, fmt.Errorf("protocol: pool at capacity")
	}
	p.count++
	p.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()
	t, err := p.factory(connectCtx)
	if err != nil {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return nil, err
	}
	return t, nil
}

// Release returns a connection to the idle pool for reuse.
func (p *Pool) Release(t Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, &pooledConn{transport: t, lastUsed: time.Now()})
}

// Discard closes and removes a connection instead of returning it to the
// idle pool, for use after a transport-level error.
func (p *Pool) Discard(t Transport) {
	t.Close()
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.opts.HealthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	var keep []*pooledConn
	var stale []*pooledConn
	now := time.Now()
	for _, pc := range p.idle {
		if p.opts.MaxIdleTime > 0 && now.Sub(pc.lastUsed) > p.opts.MaxIdleTime {
			stale = append(stale, pc)
			continue
		}
		keep = append(keep, pc)
	}
	p.idle = keep
	p.count -= len(stale)
	p.mu.Unlock()

	for _, pc := range stale {
		pc.transport.Close()
	}

	if p.health == nil {
		return
	}
	p.mu.Lock()
	candidates := append([]*pooledConn(nil), p.idle...)
	p.mu.Unlock()
	for _, pc := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.ConnectTimeout)
		ok := p.health(ctx, pc.transport)
		cancel()
		if !ok {
			p.Discard(pc.transport)
			p.removeIdle(pc)
		}
	}
}

func (p *Pool) removeIdle(target *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pc := range p.idle {
		if pc == target {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

// Close stops the health-check loop and closes every idle connection.
func (p *Pool) Close() error {
	close(p.stopCh)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.idle {
		pc.transport.Close()
	}
	p.idle = nil
	return nil
}
