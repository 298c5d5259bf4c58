package emit

import "context"

// NullEmitter discards every event it receives. Use it where observability
// overhead isn't wanted, or to disable emission without touching call
// sites that already pass an Emitter around.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter. Safe for concurrent use; zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit is a no-op.
func (n *NullEmitter) Emit(event Event) {
}

// EmitBatch is a no-op; it never returns an error.
func (n *NullEmitter) EmitBatch(ctx context.Context, events []Event) error {
	return nil
}

// Flush is a no-op; there is nothing buffered to deliver.
func (n *NullEmitter) Flush(ctx context.Context) error {
	return nil
}
