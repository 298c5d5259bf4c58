package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on
// precedence: per-node NodePolicy.Timeout, then the engine-wide default,
// then unlimited (0).
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runWithTimeout wraps a node-executing closure with timeout enforcement,
// translating a deadline-exceeded cancellation into a NODE_TIMEOUT
// EngineError so callers can distinguish it from an ordinary node error.
func runWithTimeout(ctx context.Context, nodeID string, policy *NodePolicy, defaultTimeout time.Duration, fn func(context.Context) NodeResult) (NodeResult, error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return fn(ctx), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := fn(timeoutCtx)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}
	return result, nil
}
