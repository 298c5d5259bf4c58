package graph

import (
	"fmt"

	"github.com/conductorhq/conductor-go/graph/value"
)

// TaskContext is the single dynamic state container threaded through every
// node in a workflow run. Every workflow in this module shares one context
// shape: a free-form event-data value plus an insertion-ordered record of
// each node's output, so that downstream nodes (and post-hoc
// inspection/replay) can address any prior node's result by id without the
// workflow author having to thread a bespoke struct type through
// Connect/Add.
type TaskContext struct {
	// EventData is the payload the workflow was started with, and which
	// Transform/Router nodes may read but do not directly mutate: all node
	// output is recorded under NodeOutputs instead.
	EventData value.Value

	// NodeOutputs holds the result each node produced, keyed by node id,
	// preserving the order in which nodes completed.
	NodeOutputs *NodeOutputs

	// Metadata carries out-of-band bookkeeping (run id, correlation id,
	// idempotency keys supplied by the caller) that nodes may read but that
	// is never subject to the merge-collision rule NodeOutputs enforces.
	Metadata map[string]value.Value
}

// NewTaskContext creates an empty TaskContext seeded with the given event data.
func NewTaskContext(eventData value.Value) *TaskContext {
	return &TaskContext{
		EventData:   eventData,
		NodeOutputs: NewNodeOutputs(),
		Metadata:    make(map[string]value.Value),
	}
}

// CloneForBranch deep-copies the context so that concurrent branches of a
// Parallel node can mutate their own copy without racing on shared maps.
func (tc *TaskContext) CloneForBranch() *TaskContext {
	meta := make(map[string]value.Value, len(tc.Metadata))
	for k, v := range tc.Metadata {
		meta[k] = v.Clone()
	}
	return &TaskContext{
		EventData:   tc.EventData.Clone(),
		NodeOutputs: tc.NodeOutputs.clone(),
		Metadata:    meta,
	}
}

// MergeFrom merges another branch's NodeOutputs into tc. Per spec, merging
// two branches that wrote the same node id is a collision: it returns an
// error rather than silently picking a winner. Disjoint keys are merged
// freely; output order is tc's existing order followed by other's new keys
// in other's order.
func (tc *TaskContext) MergeFrom(other *TaskContext) error {
	for _, id := range other.NodeOutputs.order {
		if _, exists := tc.NodeOutputs.get(id); exists {
			return &ProcessingError{
				Stage: "merge",
				Cause: fmt.Errorf("node output collision for %q", id),
			}
		}
	}
	for _, id := range other.NodeOutputs.order {
		v, _ := other.NodeOutputs.get(id)
		tc.NodeOutputs.set(id, v)
	}
	return nil
}

// NodeOutputs is an insertion-order-preserving map from node id to the
// value.Value that node produced.
type NodeOutputs struct {
	order []string
	data  map[string]value.Value
}

// NewNodeOutputs returns an empty NodeOutputs.
func NewNodeOutputs() *NodeOutputs {
	return &NodeOutputs{data: make(map[string]value.Value)}
}

// Set records nodeID's output, appending it to the order if it is new.
func (n *NodeOutputs) Set(nodeID string, v value.Value) {
	n.set(nodeID, v)
}

func (n *NodeOutputs) set(nodeID string, v value.Value) {
	if _, exists := n.data[nodeID]; !exists {
		n.order = append(n.order, nodeID)
	}
	n.data[nodeID] = v
}

// Get returns nodeID's recorded output, if any.
func (n *NodeOutputs) Get(nodeID string) (value.Value, bool) {
	return n.get(nodeID)
}

func (n *NodeOutputs) get(nodeID string) (value.Value, bool) {
	v, ok := n.data[nodeID]
	return v, ok
}

// Order returns node ids in the order their outputs were recorded.
func (n *NodeOutputs) Order() []string {
	cp := make([]string, len(n.order))
	copy(cp, n.order)
	return cp
}

func (n *NodeOutputs) clone() *NodeOutputs {
	cp := &NodeOutputs{
		order: append([]string(nil), n.order...),
		data:  make(map[string]value.Value, len(n.data)),
	}
	for k, v := range n.data {
		cp.data[k] = v.Clone()
	}
	return cp
}
