package resilience

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/conductor-go/eventlog"
	"github.com/conductorhq/conductor-go/graph/value"
)

func TestDeadLetterQueuePushAndDue(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis-backed DLQ test")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	store := eventlog.NewMemoryStore()
	opts := DefaultDLQOptions()
	opts.BaseRetryDelay = 0
	dlq := NewDeadLetterQueue(store, rdb, opts)

	entry, err := dlq.Push(ctx, value.String("payload"), "downstream unavailable")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	due, err := dlq.Due(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	found := false
	for _, id := range due {
		if id == entry.EntryID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected entry %s to be due, got %v", entry.EntryID, due)
	}

	if err := dlq.MarkRetried(ctx, entry, true); err != nil {
		t.Fatalf("MarkRetried: %v", err)
	}
	due, err = dlq.Due(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Due after success: %v", err)
	}
	for _, id := range due {
		if id == entry.EntryID {
			t.Fatalf("expected entry removed from schedule after success")
		}
	}
}
