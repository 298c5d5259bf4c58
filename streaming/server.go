package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor-go/graph/value"
)

// EventKind enumerates the server-sent-event types this framing layer
// emits.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventChunk     EventKind = "chunk"
	EventComplete  EventKind = "complete"
	EventHeartbeat EventKind = "heartbeat"
	EventDone      EventKind = "done"
	EventError     EventKind = "error"
)

// ServerEvent is one frame of a managed SSE stream.
type ServerEvent struct {
	ID    int64
	Event EventKind
	Data  string
}

// WriteTo serializes e per the standard text/event-stream wire format:
// "id:", "event:", "data:" lines followed by a blank line separator.
func (e ServerEvent) WriteTo(w io.Writer) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Event, e.Data)
	return err
}

// ServerOptions configures the managed stream's idle heartbeat cadence.
type ServerOptions struct {
	HeartbeatInterval time.Duration
}

// DefaultServerOptions mirrors spec.md §6's heartbeat_interval default.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{HeartbeatInterval: 15 * time.Second}
}

// Server frames an upstream Chunk sequence as a managed SSE stream:
// connected, chunk*, complete, done, with heartbeats on idleness and
// early termination with an error event on upstream failure.
type Server struct {
	opts ServerOptions
}

// NewServer returns a Server with opts applied.
func NewServer(opts ServerOptions) *Server {
	return &Server{opts: opts}
}

// Stream drains chunks, writing framed ServerEvents to emit until the
// source is exhausted, ctx is cancelled, or a malformed chunk's error
// metadata is observed.
func (s *Server) Stream(ctx context.Context, chunks <-chan Chunk, emit func(ServerEvent) error) error {
	connID := uuid.NewString()
	var seq int64

	next := func(kind EventKind, data string) error {
		seq++
		return emit(ServerEvent{ID: seq, Event: kind, Data: data})
	}

	if err := next(EventConnected, jsonString(map[string]string{"connection_id": connID, "at": time.Now().UTC().Format(time.RFC3339Nano)})); err != nil {
		return err
	}

	interval := s.opts.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			if err := next(EventHeartbeat, jsonString(map[string]string{"at": time.Now().UTC().Format(time.RFC3339Nano)})); err != nil {
				return err
			}
			timer.Reset(interval)

		case chunk, ok := <-chunks:
			if !ok {
				return next(EventDone, "[DONE]")
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(interval)

			if chunk.Metadata.Kind() != value.KindNull { // non-null metadata signals an upstream parse error
				fields, _ := chunk.Metadata.AsObject()
				if errField, ok := fields["error"]; ok {
					msg, _ := errField.AsString()
					if err := next(EventError, jsonString(map[string]string{"message": msg})); err != nil {
						return err
					}
					return fmt.Errorf("streaming: upstream error: %s", msg)
				}
			}

			if chunk.IsFinal {
				if err := next(EventComplete, jsonString(map[string]string{"content": chunk.Content})); err != nil {
					return err
				}
				return next(EventDone, "[DONE]")
			}
			if err := next(EventChunk, jsonString(map[string]string{"content": chunk.Content})); err != nil {
				return err
			}
		}
	}
}

func jsonString(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
