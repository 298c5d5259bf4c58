package emit

// Event is one observability record emitted during workflow execution: a
// node starting or finishing, a state transition, an error, a checkpoint
// write, or a latency measurement. An Emitter decides what to do with it.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the sequential step number in the workflow (1-indexed). Zero
	// for workflow-level events (start, complete, error).
	Step int

	// NodeID identifies which node emitted this event. Empty for
	// workflow-level events.
	NodeID string

	// Msg is a short human-readable description, e.g. "node_start".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	// duration_ms, error, tokens, checkpoint_id, retryable.
	Meta map[string]interface{}
}
