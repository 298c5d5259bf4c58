// Package emit provides event emission and observability for graph execution.
package emit

import "context"

// Emitter receives observability events from workflow execution and routes
// them to a backend: stdout/file logging, OpenTelemetry spans, Prometheus
// counters, an in-memory buffer for test assertions, or any combination via
// a fan-out implementation.
//
// An Emitter must not block workflow execution and must be safe to call
// concurrently — nodes running in parallel branches emit from separate
// goroutines. A slow or unavailable backend should buffer, drop with
// internal logging, or hand off asynchronously rather than stall the
// engine. Emit must never panic.
type Emitter interface {
	// Emit sends a single event to the backend. Implementations that cannot
	// process an event immediately should buffer it rather than block.
	Emit(event Event)

	// EmitBatch sends a slice of events in one call, letting an
	// implementation amortize per-event overhead (network round-trips,
	// serialization) across the batch. Events are ordered by creation time
	// and implementations should preserve that order. The returned error
	// is reserved for catastrophic failures (e.g. misconfiguration); a
	// per-event delivery failure should be logged internally instead of
	// failing the whole batch.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until every buffered event has been delivered or ctx is
	// done, and must be safe to call more than once. Callers typically
	// defer it at shutdown and after a workflow run completes, to make
	// sure nothing is still sitting in a buffer when the process exits.
	Flush(ctx context.Context) error
}
