package graph

import (
	"context"

	"github.com/conductorhq/conductor-go/graph/value"
)

// NodeKind identifies which of the five workflow node variants a Node
// implements. The engine dispatches on Kind rather than on a Go type
// switch so that custom Node implementations (e.g. generated from a
// workflow-definition file) only need to report a kind, not satisfy a
// family of marker interfaces.
type NodeKind int

const (
	// NodeTransform runs synchronously on the caller's goroutine and
	// produces a single output value from the current context.
	NodeTransform NodeKind = iota
	// NodeAsyncTransform may suspend on I/O. The engine runs it exactly as
	// it runs NodeTransform; the distinction is declarative.
	NodeAsyncTransform
	// NodeRouter inspects the context and selects exactly one outgoing
	// edge; it never contributes a NodeOutputs entry.
	NodeRouter
	// NodeParallel fans out to a fixed set of downstream node ids and
	// joins their branch contexts with TaskContext.MergeFrom.
	NodeParallel
	// NodeExternalTool invokes a named tool through a protocol.Client and
	// records the tool's response as its output.
	NodeExternalTool
)

func (k NodeKind) String() string {
	switch k {
	case NodeTransform:
		return "transform"
	case NodeAsyncTransform:
		return "async_transform"
	case NodeRouter:
		return "router"
	case NodeParallel:
		return "parallel"
	case NodeExternalTool:
		return "external_tool"
	default:
		return "unknown"
	}
}

// Node is the common interface every workflow node satisfies. ID is the
// identifier used in Workflow.Connect and in NodeOutputs; Kind tells the
// engine how to dispatch it; Policy returns the node's execution policy
// (timeout, retry, idempotency key), or nil to use engine defaults.
type Node interface {
	ID() string
	Kind() NodeKind
	Policy() *NodePolicy
}

// NodeResult is what a Transform/AsyncTransform/ExternalTool node produces:
// an output value to record under the node's id, and an error, if any.
// Routing for these three kinds is edge-driven (see Edge/Predicate); only
// Router nodes choose their own next hop.
type NodeResult struct {
	Output value.Value
	Err    error
}

// TransformFunc computes a node's output from the current context.
type TransformFunc func(ctx context.Context, tc *TaskContext) NodeResult

// TransformNode runs Fn inline on the dispatching goroutine.
type TransformNode struct {
	NodeID string
	Fn     TransformFunc
	Pol    *NodePolicy
}

func (n *TransformNode) ID() string        { return n.NodeID }
func (n *TransformNode) Kind() NodeKind    { return NodeTransform }
func (n *TransformNode) Policy() *NodePolicy { return n.Pol }

// AsyncTransformNode marks I/O-bound work (LLM calls, tool invocations not
// modeled as NodeExternalTool, database reads). The engine runs Fn exactly
// as it runs a TransformNode's, on the dispatching goroutine; nodes reached
// through a fan-out each run on their own goroutine, whatever their kind.
type AsyncTransformNode struct {
	NodeID string
	Fn     TransformFunc
	Pol    *NodePolicy
}

func (n *AsyncTransformNode) ID() string        { return n.NodeID }
func (n *AsyncTransformNode) Kind() NodeKind    { return NodeAsyncTransform }
func (n *AsyncTransformNode) Policy() *NodePolicy { return n.Pol }

// RouteFunc selects exactly one edge target from the current context. It
// is given the edges configured for the node's outgoing Connect calls and
// must return one of their To values, or an error.
type RouteFunc func(ctx context.Context, tc *TaskContext, candidates []Edge) (string, error)

// RouterNode selects one downstream node based on context contents.
type RouterNode struct {
	NodeID string
	Fn     RouteFunc
	Pol    *NodePolicy
}

func (n *RouterNode) ID() string        { return n.NodeID }
func (n *RouterNode) Kind() NodeKind    { return NodeRouter }
func (n *RouterNode) Policy() *NodePolicy { return n.Pol }

// ParallelNode fans out to Branches concurrently, each on a clone of the
// current TaskContext, then merges every branch's NodeOutputs back into
// the parent context via MergeFrom. A collision between branches (two
// branches writing the same downstream node id) aborts the merge with a
// ProcessingError.
type ParallelNode struct {
	NodeID   string
	Branches []string
	Pol      *NodePolicy
}

func (n *ParallelNode) ID() string        { return n.NodeID }
func (n *ParallelNode) Kind() NodeKind    { return NodeParallel }
func (n *ParallelNode) Policy() *NodePolicy { return n.Pol }

// ExternalToolNode invokes a remote tool through a protocol client. Input
// builds the tool call arguments from the current context; the tool's
// response, once validated, becomes this node's output.
type ExternalToolNode struct {
	NodeID   string
	ToolName string
	Input    func(tc *TaskContext) value.Value
	Invoke   func(ctx context.Context, toolName string, args value.Value) (value.Value, error)
	Pol      *NodePolicy
}

func (n *ExternalToolNode) ID() string        { return n.NodeID }
func (n *ExternalToolNode) Kind() NodeKind    { return NodeExternalTool }
func (n *ExternalToolNode) Policy() *NodePolicy { return n.Pol }

// NodeError represents an error that occurred during node execution,
// preserving which node produced it for observability.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error { return e.Cause }
