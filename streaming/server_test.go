package streaming

import (
	"context"
	"testing"

	"github.com/conductorhq/conductor-go/graph/value"
)

func TestServerStreamEmitsCanonicalSequence(t *testing.T) {
	chunks := make(chan Chunk, 4)
	chunks <- Chunk{Content: "a"}
	chunks <- Chunk{Content: "b"}
	chunks <- Chunk{IsFinal: true}
	close(chunks)

	var events []ServerEvent
	srv := NewServer(DefaultServerOptions())
	err := srv.Stream(context.Background(), chunks, func(e ServerEvent) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if len(events) != 5 {
		t.Fatalf("expected connected, chunk, chunk, complete, done (5 events), got %d: %+v", len(events), events)
	}
	wantKinds := []EventKind{EventConnected, EventChunk, EventChunk, EventComplete, EventDone}
	for i, want := range wantKinds {
		if events[i].Event != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].Event)
		}
	}
}

func TestServerStreamPropagatesUpstreamError(t *testing.T) {
	chunks := make(chan Chunk, 1)
	chunks <- Chunk{Metadata: value.Object(map[string]value.Value{"error": value.String("boom")})}
	close(chunks)

	var events []ServerEvent
	srv := NewServer(DefaultServerOptions())
	err := srv.Stream(context.Background(), chunks, func(e ServerEvent) error {
		events = append(events, e)
		return nil
	})
	if err == nil {
		t.Fatalf("expected upstream error propagated")
	}
	if len(events) != 2 || events[1].Event != EventError {
		t.Fatalf("expected connected + error events, got %+v", events)
	}
}
