package eventlog

import (
	"context"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreAppendAndGetEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if err := store.Append(ctx, []Envelope{envelope("agg-1", 1), envelope("agg-1", 2)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.GetEvents(ctx, "agg-1", 1)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	n, err := events[1].Payload.AsObject()
	if err != nil {
		t.Fatalf("AsObject: %v", err)
	}
	if _, ok := n["n"]; !ok {
		t.Fatalf("expected payload field n, got %+v", n)
	}
}

func TestSQLiteStoreRejectsVersionGap(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if err := store.Append(ctx, []Envelope{envelope("agg-2", 1)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, []Envelope{envelope("agg-2", 3)}); err == nil {
		t.Fatalf("expected concurrency error on version gap")
	}
}

func TestSQLiteStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if _, err := store.GetLatestSnapshot(ctx, "agg-3"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	snap := Snapshot{AggregateID: "agg-3", Version: 1, State: envelope("agg-3", 1).Payload}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := store.GetLatestSnapshot(ctx, "agg-3")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("got version %d", got.Version)
	}
}

func TestSQLiteStoreReplayPagesByGlobalSeq(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	for v := int64(1); v <= 5; v++ {
		if err := store.Append(ctx, []Envelope{envelope("agg-4", v)}); err != nil {
			t.Fatalf("append v%d: %v", v, err)
		}
	}

	first, pos, err := store.Replay(ctx, 0, nil, 2)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(first))
	}
	second, _, err := store.Replay(ctx, pos, nil, 10)
	if err != nil {
		t.Fatalf("Replay continuation: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("expected remaining 3 events, got %d", len(second))
	}
}
