package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conductorhq/conductor-go/graph/value"
)

func transformOutputNode(id string, out value.Value) *TransformNode {
	return &TransformNode{
		NodeID: id,
		Fn: func(_ context.Context, _ *TaskContext) NodeResult {
			return NodeResult{Output: out}
		},
	}
}

func TestEngineExecuteLinearChain(t *testing.T) {
	wf := NewWorkflow()
	mustAdd(t, wf, transformOutputNode("a", value.String("a-out")))
	mustAdd(t, wf, transformOutputNode("b", value.String("b-out")))
	if err := wf.Connect("a", "b", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.StartAt("a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, NewMemoryCheckpointStore(), nil)
	result, err := engine.Execute(context.Background(), "run-1", NewTaskContext(value.Null()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, ok := result.NodeOutputs.Get("b")
	if !ok {
		t.Fatal("expected node b's output to be recorded")
	}
	s, _ := got.AsString()
	if s != "b-out" {
		t.Fatalf("expected b-out, got %q", s)
	}
	if _, ok := result.NodeOutputs.Get("a"); !ok {
		t.Fatal("expected node a's output to also be recorded")
	}
}

func TestEngineExecuteRouterSelectsOneEdge(t *testing.T) {
	wf := NewWorkflow()
	mustAdd(t, wf, transformOutputNode("start", value.Number(1)))
	mustAdd(t, wf, &RouterNode{
		NodeID: "router",
		Fn: func(_ context.Context, _ *TaskContext, candidates []Edge) (string, error) {
			for _, e := range candidates {
				if e.To == "right" {
					return "right", nil
				}
			}
			return "", errors.New("no right edge")
		},
	})
	mustAdd(t, wf, transformOutputNode("left", value.String("left")))
	mustAdd(t, wf, transformOutputNode("right", value.String("right")))

	if err := wf.Connect("start", "router", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.Connect("router", "left", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.Connect("router", "right", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.StartAt("start"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, nil, nil)
	result, err := engine.Execute(context.Background(), "run-2", NewTaskContext(value.Null()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := result.NodeOutputs.Get("left"); ok {
		t.Fatal("router should not have taken the left branch")
	}
	if _, ok := result.NodeOutputs.Get("right"); !ok {
		t.Fatal("router should have taken the right branch")
	}
}

func TestEngineExecuteParallelMergesBranches(t *testing.T) {
	wf := NewWorkflow()
	mustAdd(t, wf, transformOutputNode("start", value.Null()))
	mustAdd(t, wf, &ParallelNode{NodeID: "fork", Branches: []string{"left", "right"}})
	mustAdd(t, wf, transformOutputNode("left", value.String("left-out")))
	mustAdd(t, wf, transformOutputNode("right", value.String("right-out")))

	if err := wf.Connect("start", "fork", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.StartAt("start"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, nil, nil, Options{MaxConcurrentNodes: 4})
	result, err := engine.Execute(context.Background(), "run-3", NewTaskContext(value.Null()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	left, ok := result.NodeOutputs.Get("left")
	if !ok {
		t.Fatal("expected left branch output")
	}
	right, ok := result.NodeOutputs.Get("right")
	if !ok {
		t.Fatal("expected right branch output")
	}
	ls, _ := left.AsString()
	rs, _ := right.AsString()
	if ls != "left-out" || rs != "right-out" {
		t.Fatalf("unexpected branch outputs: %q %q", ls, rs)
	}
}

func TestEngineExecuteImplicitFanOutOnMultipleMatchingEdges(t *testing.T) {
	wf := NewWorkflow()
	mustAdd(t, wf, transformOutputNode("start", value.Null()))
	mustAdd(t, wf, transformOutputNode("a", value.String("a-out")))
	mustAdd(t, wf, transformOutputNode("b", value.String("b-out")))

	if err := wf.Connect("start", "a", Always); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.Connect("start", "b", Always); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.StartAt("start"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, nil, nil)
	result, err := engine.Execute(context.Background(), "run-4", NewTaskContext(value.Null()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := result.NodeOutputs.Get("a"); !ok {
		t.Fatal("expected a's output from implicit fan-out")
	}
	if _, ok := result.NodeOutputs.Get("b"); !ok {
		t.Fatal("expected b's output from implicit fan-out")
	}
}

func TestEngineExecuteRetriesTransientErrors(t *testing.T) {
	attempts := 0
	flaky := &TransformNode{
		NodeID: "flaky",
		Fn: func(_ context.Context, _ *TaskContext) NodeResult {
			attempts++
			if attempts < 3 {
				return NodeResult{Err: errors.New("transient failure")}
			}
			return NodeResult{Output: value.String("ok")}
		},
		Pol: &NodePolicy{
			RetryPolicy: &RetryPolicy{
				MaxAttempts: 5,
				BaseDelay:   time.Millisecond,
				MaxDelay:    5 * time.Millisecond,
				Retryable:   func(error) bool { return true },
			},
		},
	}

	wf := NewWorkflow()
	mustAdd(t, wf, flaky)
	if err := wf.StartAt("flaky"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, nil, nil)
	result, err := engine.Execute(context.Background(), "run-5", NewTaskContext(value.Null()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	out, _ := result.NodeOutputs.Get("flaky")
	s, _ := out.AsString()
	if s != "ok" {
		t.Fatalf("expected ok, got %q", s)
	}
}

func TestEngineExecuteNonRetryableErrorFailsImmediately(t *testing.T) {
	attempts := 0
	boom := &TransformNode{
		NodeID: "boom",
		Fn: func(_ context.Context, _ *TaskContext) NodeResult {
			attempts++
			return NodeResult{Err: errors.New("permanent failure")}
		},
		Pol: &NodePolicy{
			RetryPolicy: &RetryPolicy{
				MaxAttempts: 5,
				BaseDelay:   time.Millisecond,
				Retryable:   func(error) bool { return false },
			},
		},
	}

	wf := NewWorkflow()
	mustAdd(t, wf, boom)
	if err := wf.StartAt("boom"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, nil, nil)
	_, err := engine.Execute(context.Background(), "run-6", NewTaskContext(value.Null()))
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestEngineSaveAndResumeFromCheckpoint(t *testing.T) {
	wf := NewWorkflow()
	mustAdd(t, wf, transformOutputNode("a", value.String("a-out")))
	mustAdd(t, wf, transformOutputNode("b", value.String("b-out")))
	if err := wf.Connect("a", "b", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.StartAt("a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	store := NewMemoryCheckpointStore()
	engine := New(wf, store, nil)

	if _, err := engine.Execute(context.Background(), "run-7", NewTaskContext(value.Null())); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if err := engine.SaveCheckpoint(context.Background(), "run-7", "after-b"); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	result, err := engine.ResumeFrom(context.Background(), "after-b", "run-7-resumed", "a")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, ok := result.NodeOutputs.Get("b"); !ok {
		t.Fatal("expected resumed run to still have b's output")
	}
}

func TestEngineExecuteMaxStepsExceeded(t *testing.T) {
	wf := NewWorkflow()
	mustAdd(t, wf, transformOutputNode("a", value.Null()))
	mustAdd(t, wf, transformOutputNode("b", value.Null()))
	if err := wf.Connect("a", "b", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wf.StartAt("a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine := New(wf, nil, nil, Options{MaxSteps: 1})
	_, err := engine.Execute(context.Background(), "run-8", NewTaskContext(value.Null()))
	if err == nil {
		t.Fatal("expected MAX_STEPS_EXCEEDED error")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != "MAX_STEPS_EXCEEDED" {
		t.Fatalf("expected MAX_STEPS_EXCEEDED, got %v", err)
	}
}

func mustAdd(t *testing.T, wf *Workflow, n Node) {
	t.Helper()
	if err := wf.Add(n); err != nil {
		t.Fatalf("add %s: %v", n.ID(), err)
	}
}
