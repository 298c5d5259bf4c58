package graph

import (
	"context"
	"testing"
)

func TestComputeOrderKeyIsDeterministic(t *testing.T) {
	a := ComputeOrderKey("node-1", 3)
	b := ComputeOrderKey("node-1", 3)
	if a != b {
		t.Fatal("same inputs should produce the same order key")
	}
}

func TestComputeOrderKeyVariesByInput(t *testing.T) {
	base := ComputeOrderKey("node-1", 0)
	if ComputeOrderKey("node-2", 0) == base {
		t.Fatal("different parent node ids should (almost certainly) produce different keys")
	}
	if ComputeOrderKey("node-1", 1) == base {
		t.Fatal("different edge indices should (almost certainly) produce different keys")
	}
}

func TestFrontierDequeueReturnsLowestOrderKeyFirst(t *testing.T) {
	f := NewFrontier(10)
	ctx := context.Background()

	items := []WorkItem{
		{NodeID: "c", OrderKey: 300},
		{NodeID: "a", OrderKey: 100},
		{NodeID: "b", OrderKey: 200},
	}
	for _, item := range items {
		if err := f.Enqueue(ctx, item); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var order []string
	for i := 0; i < 3; i++ {
		item, err := f.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		order = append(order, item.NodeID)
	}

	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected dequeue order [a b c] by ascending OrderKey, got %v", order)
	}
}

func TestFrontierMetricsTracksEnqueueAndDequeueCounts(t *testing.T) {
	f := NewFrontier(10)
	ctx := context.Background()

	if err := f.Enqueue(ctx, WorkItem{NodeID: "x", OrderKey: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if f.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", f.Len())
	}

	if _, err := f.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	m := f.Metrics()
	if m.TotalEnqueued != 1 {
		t.Fatalf("expected TotalEnqueued 1, got %d", m.TotalEnqueued)
	}
	if m.TotalDequeued != 1 {
		t.Fatalf("expected TotalDequeued 1, got %d", m.TotalDequeued)
	}
	if m.QueueDepth != 0 {
		t.Fatalf("expected QueueDepth 0 after drain, got %d", m.QueueDepth)
	}
}

func TestFrontierEnqueueRespectsContextCancellation(t *testing.T) {
	f := NewFrontier(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Enqueue(ctx, WorkItem{NodeID: "x"})
	if err == nil {
		t.Fatal("expected cancelled context to abort Enqueue")
	}
}
