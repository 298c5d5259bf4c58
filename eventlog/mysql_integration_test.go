package eventlog

import (
	"context"
	"os"
	"testing"
)

// TestMySQLIntegration exercises MySQLStore against a live database. It is
// skipped unless TEST_MYSQL_DSN is set, since it requires real
// infrastructure rather than anything this test file can spin up itself.
func TestMySQLIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set, skipping MySQL integration test")
	}

	ctx := context.Background()
	store, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer store.Close()

	if err := store.Append(ctx, []Envelope{envelope("mysql-agg-1", 1), envelope("mysql-agg-1", 2)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.GetEvents(ctx, "mysql-agg-1", 1)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if err := store.Append(ctx, []Envelope{envelope("mysql-agg-1", 2)}); err == nil {
		t.Fatalf("expected concurrency error on replayed version")
	}
}
