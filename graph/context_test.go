package graph

import (
	"testing"

	"github.com/conductorhq/conductor-go/graph/value"
)

func TestTaskContextCloneForBranchIsIndependent(t *testing.T) {
	tc := NewTaskContext(value.String("seed"))
	tc.NodeOutputs.Set("a", value.Number(1))
	tc.Metadata["run_id"] = value.String("run-1")

	clone := tc.CloneForBranch()
	clone.NodeOutputs.Set("b", value.Number(2))
	clone.Metadata["run_id"] = value.String("run-2")

	if _, ok := tc.NodeOutputs.Get("b"); ok {
		t.Fatal("mutating the clone's outputs should not affect the original")
	}
	if got, _ := tc.Metadata["run_id"].AsString(); got != "run-1" {
		t.Fatalf("mutating the clone's metadata should not affect the original, got %q", got)
	}
}

func TestTaskContextMergeFromDisjointKeys(t *testing.T) {
	base := NewTaskContext(value.Null())
	base.NodeOutputs.Set("a", value.String("a-out"))

	branch := NewTaskContext(value.Null())
	branch.NodeOutputs.Set("b", value.String("b-out"))

	if err := base.MergeFrom(branch); err != nil {
		t.Fatalf("expected clean merge, got %v", err)
	}

	if _, ok := base.NodeOutputs.Get("a"); !ok {
		t.Fatal("expected a's output to survive merge")
	}
	b, ok := base.NodeOutputs.Get("b")
	if !ok {
		t.Fatal("expected b's output to be merged in")
	}
	s, _ := b.AsString()
	if s != "b-out" {
		t.Fatalf("expected b-out, got %q", s)
	}
}

func TestTaskContextMergeFromCollisionReturnsProcessingError(t *testing.T) {
	base := NewTaskContext(value.Null())
	base.NodeOutputs.Set("a", value.String("first"))

	branch := NewTaskContext(value.Null())
	branch.NodeOutputs.Set("a", value.String("second"))

	err := base.MergeFrom(branch)
	if err == nil {
		t.Fatal("expected a collision error")
	}
	pe, ok := err.(*ProcessingError)
	if !ok {
		t.Fatalf("expected *ProcessingError, got %T", err)
	}
	if pe.Stage != "merge" {
		t.Fatalf("expected merge stage, got %q", pe.Stage)
	}

	got, _ := base.NodeOutputs.Get("a")
	s, _ := got.AsString()
	if s != "first" {
		t.Fatalf("expected base's value to be left untouched after a failed merge, got %q", s)
	}
}

func TestNodeOutputsPreservesInsertionOrder(t *testing.T) {
	out := NewNodeOutputs()
	out.Set("c", value.Number(3))
	out.Set("a", value.Number(1))
	out.Set("b", value.Number(2))
	out.Set("a", value.Number(10))

	order := out.Order()
	if len(order) != 3 || order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Fatalf("expected order [c a b] with a's position unchanged on overwrite, got %v", order)
	}
	v, _ := out.Get("a")
	n, _ := v.AsNumber()
	if n != 10 {
		t.Fatalf("expected overwritten value 10, got %v", n)
	}
}
