package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor-go/graph/value"
)

// OperationKind distinguishes per-operation timeout classes, since
// queries, mutations, and health checks have independent budgets.
type OperationKind int

const (
	OpQuery OperationKind = iota
	OpMutation
	OpHealthCheck
)

// ClientOptions configures per-kind timeouts.
type ClientOptions struct {
	QueryTimeout       time.Duration
	MutationTimeout    time.Duration
	HealthCheckTimeout time.Duration
}

// DefaultClientOptions mirrors typical remote-tool timeout splits: reads
// can wait a bit longer than writes, and health checks should fail fast.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		QueryTimeout:       30 * time.Second,
		MutationTimeout:    15 * time.Second,
		HealthCheckTimeout: 3 * time.Second,
	}
}

// Client is a session-scoped remote tool invocation client: it pulls a
// connection from Pool, frames a Request, validates it, sends it, and
// retires the request id on completion or cancellation.
type Client struct {
	pool      *Pool
	validator *Validator
	opts      ClientOptions
	seq       int64
}

// NewClient returns a Client drawing connections from pool and validating
// traffic with validator.
func NewClient(pool *Pool, validator *Validator, opts ClientOptions) *Client {
	return &Client{pool: pool, validator: validator, opts: opts}
}

func (c *Client) nextRequestID() string {
	n := atomic.AddInt64(&c.seq, 1)
	return fmt.Sprintf("%s-%d", uuid.NewString(), n)
}

// Call sends method/params to the remote endpoint under a timeout sized
// by kind, validating both the outbound request and returning any
// protocol-level error from the response.
func (c *Client) Call(ctx context.Context, kind OperationKind, method string, params value.Value) (value.Value, error) {
	req := NewRequest(c.nextRequestID(), method, params)

	raw, err := marshalForSizeCheck(req)
	if err != nil {
		return value.Value{}, err
	}
	if err := c.validator.ValidateRequest(req, len(raw)); err != nil {
		return value.Value{}, err
	}
	defer c.validator.RetireRequestID(req.ID)

	timeout := c.timeoutFor(kind)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.pool.Acquire(callCtx)
	if err != nil {
		return value.Value{}, err
	}

	resp, err := conn.Send(callCtx, req)
	if err != nil {
		c.pool.Discard(conn)
		return value.Value{}, fmt.Errorf("protocol: send: %w", err)
	}
	c.pool.Release(conn)

	if resp.Error != nil {
		return value.Value{}, resp.Error
	}
	return resp.Result, nil
}

func (c *Client) timeoutFor(kind OperationKind) time.Duration {
	switch kind {
	case OpMutation:
		return c.opts.MutationTimeout
	case OpHealthCheck:
		return c.opts.HealthCheckTimeout
	default:
		return c.opts.QueryTimeout
	}
}

func marshalForSizeCheck(req Request) ([]byte, error) {
	return json.Marshal(req)
}
