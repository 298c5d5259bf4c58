package graph

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/conductor-go/graph/value"
)

func TestGetNodeTimeoutPrefersPolicyOverDefault(t *testing.T) {
	policy := &NodePolicy{Timeout: 5 * time.Second}
	if got := getNodeTimeout(policy, 30*time.Second); got != 5*time.Second {
		t.Fatalf("expected policy timeout to win, got %v", got)
	}
}

func TestGetNodeTimeoutFallsBackToDefault(t *testing.T) {
	if got := getNodeTimeout(nil, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", got)
	}
	if got := getNodeTimeout(&NodePolicy{}, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected default timeout when policy timeout is zero, got %v", got)
	}
}

func TestGetNodeTimeoutUnlimitedWhenNeitherSet(t *testing.T) {
	if got := getNodeTimeout(nil, 0); got != 0 {
		t.Fatalf("expected unlimited (0), got %v", got)
	}
}

func TestRunWithTimeoutPassesThroughWhenUnlimited(t *testing.T) {
	result, err := runWithTimeout(context.Background(), "n1", nil, 0, func(_ context.Context) NodeResult {
		return NodeResult{Output: value.String("ok")}
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s, _ := result.Output.AsString()
	if s != "ok" {
		t.Fatalf("expected ok, got %q", s)
	}
}

func TestRunWithTimeoutTranslatesDeadlineExceeded(t *testing.T) {
	_, err := runWithTimeout(context.Background(), "slow", nil, 10*time.Millisecond, func(ctx context.Context) NodeResult {
		time.Sleep(30 * time.Millisecond)
		return NodeResult{Output: value.Null()}
	})
	if err == nil {
		t.Fatal("expected a NODE_TIMEOUT error")
	}
	engErr, ok := err.(*EngineError)
	if !ok {
		t.Fatalf("expected *EngineError, got %T", err)
	}
	if engErr.Code != "NODE_TIMEOUT" {
		t.Fatalf("expected NODE_TIMEOUT, got %q", engErr.Code)
	}
}

func TestRunWithTimeoutDoesNotFlagFastNodeAsTimedOut(t *testing.T) {
	_, err := runWithTimeout(context.Background(), "fast", nil, 50*time.Millisecond, func(_ context.Context) NodeResult {
		return NodeResult{Output: value.Null()}
	})
	if err != nil {
		t.Fatalf("fast node should not be flagged as timed out, got %v", err)
	}
}
