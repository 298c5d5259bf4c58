package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conductorhq/conductor-go/graph/emit"
	"github.com/conductorhq/conductor-go/graph/value"
)

// contextKey is a private type for context value keys, keeping this
// package's keys from colliding with any other package's.
type contextKey string

const (
	// RunIDKey is the context key for the current workflow run id.
	RunIDKey contextKey = "conductor.run_id"
	// NodeIDKey is the context key for the node currently executing.
	NodeIDKey contextKey = "conductor.node_id"
	// AttemptKey is the context key for the current retry attempt (0-based).
	AttemptKey contextKey = "conductor.attempt"
	// RNGKey is the context key for the run's seeded *rand.Rand, enabling
	// deterministic replay of any node that needs randomness.
	RNGKey contextKey = "conductor.rng"
)

// initRNG derives a deterministic seed from runID via SHA-256, so the same
// runID always produces the same pseudo-random sequence across a live run
// and its later replay.
func initRNG(runID string) *rand.Rand {
	h := sha256.New()
	h.Write([]byte(runID))
	sum := h.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(sum[:8])) // #nosec G115 -- deterministic seeding, not security
	return rand.New(rand.NewSource(seed))           // #nosec G404 -- deterministic RNG for replay
}

// CheckpointStore persists durable execution checkpoints for workflow
// runs, distinct from eventlog.Store (the system of record for
// event-sourced aggregates elsewhere in the module). A run's latest
// checkpoint is used for crash recovery; named checkpoints support manual
// branching and resumption from a labeled point.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string) (Checkpoint, bool, error)
	SaveNamed(ctx context.Context, label string, cp Checkpoint) error
	LoadNamed(ctx context.Context, label string) (Checkpoint, bool, error)
}

// MemoryCheckpointStore is an in-memory CheckpointStore, suitable for
// tests and single-process deployments.
type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	byRun map[string]Checkpoint
	named map[string]Checkpoint
}

// NewMemoryCheckpointStore returns an empty MemoryCheckpointStore.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		byRun: make(map[string]Checkpoint),
		named: make(map[string]Checkpoint),
	}
}

func (m *MemoryCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRun[cp.RunID] = cp
	return nil
}

func (m *MemoryCheckpointStore) Load(_ context.Context, runID string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.byRun[runID]
	return cp, ok, nil
}

func (m *MemoryCheckpointStore) SaveNamed(_ context.Context, label string, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.Label = label
	m.named[label] = cp
	return nil
}

func (m *MemoryCheckpointStore) LoadNamed(_ context.Context, label string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.named[label]
	return cp, ok, nil
}

// Options configures Engine execution behavior. Zero values are valid;
// the Engine falls back to sensible defaults.
type Options struct {
	// MaxSteps bounds the number of node executions in a single run. 0
	// means unbounded. Workflow.Validate already rejects cycles, so a
	// well-formed graph can't loop forever on its own; MaxSteps exists as a
	// defensive cap against runaway fan-out.
	MaxSteps int

	// MaxConcurrentNodes limits how many nodes may execute at once across
	// the whole run (shared by ordinary edge fan-out and Parallel branches).
	// Default: 8.
	MaxConcurrentNodes int

	// QueueDepth sets the Frontier's queue capacity, used for backpressure
	// metrics. Default: 1024.
	QueueDepth int

	// BackpressureTimeout bounds how long Enqueue blocks against a full
	// Frontier before the run fails with ErrBackpressureTimeout (no
	// checkpoint is saved). 0 means block indefinitely.
	BackpressureTimeout time.Duration

	// DefaultNodeTimeout bounds node execution when the node's own Policy
	// doesn't specify one. 0 means no engine-wide timeout.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds the entire Execute call. 0 disables it.
	RunWallClockBudget time.Duration

	// ReplayMode, when true, makes ExternalTool nodes prefer a matching
	// RecordedIO from the resumed checkpoint over live invocation.
	ReplayMode bool

	// StrictReplay, when true alongside ReplayMode, fails the run with
	// ErrReplayMismatch if a live re-invocation's response hash diverges
	// from its recorded counterpart.
	StrictReplay bool

	// Metrics, if set, receives Prometheus-compatible observability data.
	Metrics *PrometheusMetrics

	// DefaultRetryPolicy applies to nodes that don't declare their own
	// NodePolicy.RetryPolicy.
	DefaultRetryPolicy *RetryPolicy
}

// Engine executes a single Workflow against TaskContext-typed runs,
// dispatching nodes by NodeKind, enforcing per-node timeout and retry
// policy, checkpointing after completion, and emitting observability
// events throughout.
type Engine struct {
	mu          sync.RWMutex
	workflow    *Workflow
	checkpoints CheckpointStore
	emitter     emit.Emitter
	metrics     *PrometheusMetrics
	opts        Options

	frontier *Frontier
	sem      chan struct{}

	recordedMu  sync.Mutex
	recordedIOs []RecordedIO
	replayFeed  []RecordedIO
}

// New constructs an Engine bound to workflow. checkpoints may be nil to
// disable checkpointing. Configuration is supplied either as an Options
// struct or via functional Option values (see options.go); the two forms
// may be mixed, and later arguments win over earlier ones for any field
// they both set.
func New(workflow *Workflow, checkpoints CheckpointStore, emitter emit.Emitter, options ...interface{}) *Engine {
	cfg := &engineConfig{}
	for _, opt := range options {
		switch v := opt.(type) {
		case Options:
			cfg.opts = v
		case Option:
			_ = v(cfg)
		}
	}

	return &Engine{
		workflow:    workflow,
		checkpoints: checkpoints,
		emitter:     emitter,
		metrics:     cfg.opts.Metrics,
		opts:        cfg.opts,
	}
}

func (e *Engine) maxWorkers() int {
	if e.opts.MaxConcurrentNodes > 0 {
		return e.opts.MaxConcurrentNodes
	}
	return 8
}

func (e *Engine) queueDepth() int {
	if e.opts.QueueDepth > 0 {
		return e.opts.QueueDepth
	}
	return 1024
}

// Execute validates the workflow, runs it to completion from its start
// node against initial, and returns the final merged TaskContext.
func (e *Engine) Execute(ctx context.Context, runID string, initial *TaskContext) (*TaskContext, error) {
	if e == nil || e.workflow == nil {
		return nil, &EngineError{Message: "engine has no workflow configured", Code: "NO_WORKFLOW"}
	}
	if err := e.workflow.Validate(); err != nil {
		return nil, err
	}

	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	ctx = context.WithValue(ctx, RunIDKey, runID)
	ctx = context.WithValue(ctx, RNGKey, initRNG(runID))

	e.frontier = NewFrontier(e.queueDepth())
	e.sem = make(chan struct{}, e.maxWorkers())
	e.recordedIOs = nil
	if e.opts.ReplayMode && e.checkpoints != nil {
		if cp, ok, err := e.checkpoints.Load(ctx, runID); err == nil && ok {
			e.replayFeed = cp.RecordedIOs
		}
	}

	var stepCounter atomic.Int64
	final, err := e.dispatch(ctx, runID, e.workflow.startNode, initial, &stepCounter)
	if err != nil {
		return nil, err
	}

	if e.checkpoints != nil {
		e.saveRunCheckpoint(ctx, runID, int(stepCounter.Load()), final)
	}

	return final, nil
}

func (e *Engine) saveRunCheckpoint(ctx context.Context, runID string, stepID int, tc *TaskContext) {
	e.recordedMu.Lock()
	recordings := append([]RecordedIO(nil), e.recordedIOs...)
	e.recordedMu.Unlock()

	cp := Checkpoint{
		RunID:       runID,
		StepID:      stepID,
		Context:     tc,
		RecordedIOs: recordings,
		Timestamp:   time.Now(),
	}
	if key, err := computeIdempotencyKey(runID, stepID, nil, tc); err == nil {
		cp.IdempotencyKey = key
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.emitEvent(runID, "", stepID, "checkpoint_save_failed", map[string]interface{}{"error": err.Error()})
	}
}

// dispatch runs the node graph starting at nodeID against tc, following
// edges (and, for Parallel nodes, explicit branch targets) until no
// further outgoing path is taken, then returns the resulting context.
// Multiple concurrently taken paths (Parallel branches, or an ordinary
// node whose edges match more than one predicate) are executed under
// e.sem and merged back into a single context via TaskContext.MergeFrom
// before dispatch returns from that fork point.
func (e *Engine) dispatch(ctx context.Context, runID, nodeID string, tc *TaskContext, stepCounter *atomic.Int64) (*TaskContext, error) {
	e.mu.RLock()
	node, exists := e.workflow.nodes[nodeID]
	e.mu.RUnlock()
	if !exists {
		return nil, &EngineError{Message: "node not found during execution: " + nodeID, Code: "NODE_NOT_FOUND"}
	}

	step := int(stepCounter.Add(1))
	if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
		return nil, &EngineError{Message: "workflow exceeded MaxSteps limit", Code: "MAX_STEPS_EXCEEDED"}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.emitEvent(runID, nodeID, step, "node_start", nil)

	switch node.Kind() {
	case NodeRouter:
		return e.dispatchRouter(ctx, runID, node.(*RouterNode), tc, step, stepCounter)
	case NodeParallel:
		return e.dispatchParallel(ctx, runID, node.(*ParallelNode), tc, step, stepCounter)
	default:
		return e.dispatchLinear(ctx, runID, node, tc, step, stepCounter)
	}
}

// retryPolicyOr returns p.RetryPolicy if non-nil, else fallback.
func retryPolicyOr(p *NodePolicy, fallback *RetryPolicy) *RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return fallback
}

// runNode executes a Transform/AsyncTransform/ExternalTool node's work
// function, enforcing its timeout and retry policy, and recording its
// output into tc.NodeOutputs on success.
func (e *Engine) runNode(ctx context.Context, runID string, node Node, tc *TaskContext, step int) error {
	policy := node.Policy()
	retryPolicy := retryPolicyOr(policy, e.opts.DefaultRetryPolicy)

	nodeCtx := context.WithValue(ctx, NodeIDKey, node.ID())

	attempt := 0
	for {
		attemptCtx := context.WithValue(nodeCtx, AttemptKey, attempt)
		start := time.Now()

		result, timeoutErr := runWithTimeout(attemptCtx, node.ID(), policy, e.opts.DefaultNodeTimeout, func(c context.Context) NodeResult {
			return e.invokeNode(c, node, tc, attempt)
		})

		latency := time.Since(start)
		status := "success"
		err := timeoutErr
		if err == nil {
			err = result.Err
		}
		if err != nil {
			status = "error"
		}
		if e.metrics != nil {
			e.metrics.RecordStepLatency(runID, node.ID(), latency, status)
		}

		if err == nil {
			tc.NodeOutputs.Set(node.ID(), result.Output)
			e.emitEvent(runID, node.ID(), step, "node_end", map[string]interface{}{"duration_ms": latency.Milliseconds()})
			return nil
		}

		e.emitEvent(runID, node.ID(), step, "error", map[string]interface{}{"error": err.Error(), "attempt": attempt})

		if retryPolicy == nil || retryPolicy.Retryable == nil || !retryPolicy.Retryable(err) {
			return err
		}
		if attempt+1 >= retryPolicy.MaxAttempts {
			return ErrMaxAttemptsExceeded
		}

		if e.metrics != nil {
			e.metrics.IncrementRetries(runID, node.ID(), "error")
		}

		var rng *rand.Rand
		if r, ok := ctx.Value(RNGKey).(*rand.Rand); ok {
			rng = r
		}
		delay := computeBackoff(attempt, retryPolicy.BaseDelay, retryPolicy.MaxDelay, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

// invokeNode dispatches a single attempt of a Transform/AsyncTransform/
// ExternalTool node. AsyncTransform nodes execute identically to Transform
// nodes here: both already run on a worker-pool goroutine whenever they
// are part of a fan-out (see forkAndMerge), so the distinction between the
// two is purely declarative, telling a reader which nodes are expected to
// suspend on I/O.
func (e *Engine) invokeNode(ctx context.Context, node Node, tc *TaskContext, attempt int) NodeResult {
	switch n := node.(type) {
	case *TransformNode:
		return n.Fn(ctx, tc)
	case *AsyncTransformNode:
		return n.Fn(ctx, tc)
	case *ExternalToolNode:
		return e.invokeExternalTool(ctx, n, tc, attempt)
	default:
		return NodeResult{Err: &NodeError{Message: "unsupported node kind for linear dispatch", NodeID: node.ID()}}
	}
}

func (e *Engine) invokeExternalTool(ctx context.Context, n *ExternalToolNode, tc *TaskContext, attempt int) NodeResult {
	if n.Invoke == nil {
		return NodeResult{Err: &NodeError{Message: "external tool node has no Invoke function", NodeID: n.NodeID}}
	}
	var args value.Value
	if n.Input != nil {
		args = n.Input(tc)
	}

	if e.opts.ReplayMode {
		if recorded, ok := lookupRecordedIO(e.replayFeed, n.NodeID, attempt); ok {
			replayed, err := value.FromJSON(recorded.Response)
			if err != nil {
				return NodeResult{Err: &DeserializationError{Cause: err}}
			}
			if !e.opts.StrictReplay {
				return NodeResult{Output: replayed}
			}
			out, err := n.Invoke(ctx, n.ToolName, args)
			if err != nil {
				return NodeResult{Err: &ProcessingError{Stage: "external_tool:" + n.ToolName, Cause: err}}
			}
			if err := verifyReplayHash(recorded, out); err != nil {
				return NodeResult{Err: err}
			}
			return NodeResult{Output: out}
		}
	}

	out, err := n.Invoke(ctx, n.ToolName, args)
	if err != nil {
		return NodeResult{Err: &ProcessingError{Stage: "external_tool:" + n.ToolName, Cause: err}}
	}

	if recording, recErr := recordIO(n.NodeID, attempt, args, out); recErr == nil {
		e.recordedMu.Lock()
		e.recordedIOs = append(e.recordedIOs, recording)
		e.recordedMu.Unlock()
	}

	return NodeResult{Output: out}
}

// dispatchLinear executes a Transform/AsyncTransform/ExternalTool node,
// then follows every outgoing edge whose predicate passes. Zero matches
// ends this path (the node is a leaf along this branch); exactly one match
// continues sequentially; more than one match forks concurrently and
// merges the resulting contexts via MergeFrom before returning.
func (e *Engine) dispatchLinear(ctx context.Context, runID string, node Node, tc *TaskContext, step int, stepCounter *atomic.Int64) (*TaskContext, error) {
	if err := e.runNode(ctx, runID, node, tc, step); err != nil {
		return nil, err
	}

	matches := e.matchingEdges(node.ID(), tc)
	if len(matches) == 0 {
		return tc, nil
	}
	if len(matches) == 1 {
		e.emitEvent(runID, node.ID(), step, "routing_decision", map[string]interface{}{"next_node": matches[0].To})
		return e.dispatch(ctx, runID, matches[0].To, tc, stepCounter)
	}

	e.emitEvent(runID, node.ID(), step, "routing_decision", map[string]interface{}{"fan_out": edgeTargets(matches)})
	return e.forkAndMerge(ctx, runID, tc, stepCounter, edgeTargets(matches))
}

func (e *Engine) dispatchRouter(ctx context.Context, runID string, node *RouterNode, tc *TaskContext, step int, stepCounter *atomic.Int64) (*TaskContext, error) {
	candidates := e.workflow.edgesFrom(node.NodeID)
	if node.Fn == nil {
		return nil, &NodeError{Message: "router node has no RouteFunc", NodeID: node.NodeID}
	}

	start := time.Now()
	nextID, err := node.Fn(context.WithValue(ctx, NodeIDKey, node.NodeID), tc, candidates)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordStepLatency(runID, node.NodeID, time.Since(start), status)
	}
	if err != nil {
		e.emitEvent(runID, node.NodeID, step, "error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	e.emitEvent(runID, node.NodeID, step, "node_end", nil)
	e.emitEvent(runID, node.NodeID, step, "routing_decision", map[string]interface{}{"next_node": nextID})
	return e.dispatch(ctx, runID, nextID, tc, stepCounter)
}

// dispatchParallel fans out to every declared branch on its own clone of
// tc, waits for all branches to finish, merges their NodeOutputs back into
// tc (a collision between branches surfaces as a ProcessingError), then
// continues from the Parallel node's own outgoing edges using the merged
// context.
func (e *Engine) dispatchParallel(ctx context.Context, runID string, node *ParallelNode, tc *TaskContext, step int, stepCounter *atomic.Int64) (*TaskContext, error) {
	e.emitEvent(runID, node.NodeID, step, "routing_decision", map[string]interface{}{"parallel": true, "branches": node.Branches})

	merged, err := e.forkAndMerge(ctx, runID, tc, stepCounter, node.Branches)
	if err != nil {
		return nil, err
	}

	e.emitEvent(runID, node.NodeID, step, "node_end", nil)

	matches := e.matchingEdges(node.NodeID, merged)
	if len(matches) == 0 {
		return merged, nil
	}
	if len(matches) == 1 {
		return e.dispatch(ctx, runID, matches[0].To, merged, stepCounter)
	}
	return e.forkAndMerge(ctx, runID, merged, stepCounter, edgeTargets(matches))
}

// forkAndMerge dispatches targets concurrently (bounded by e.sem), each
// against its own clone of base, then merges every branch's resulting
// NodeOutputs back into a single context derived from base. Each target
// is first pushed through e.frontier as a WorkItem and immediately
// popped back off: this keeps the Frontier's queue-depth, backpressure,
// and ordering bookkeeping authoritative for every fan-out in the run,
// even though the goroutine that actually dispatches the node is spawned
// directly rather than pulled by a separate worker loop.
func (e *Engine) forkAndMerge(ctx context.Context, runID string, base *TaskContext, stepCounter *atomic.Int64, targets []string) (*TaskContext, error) {
	type branchOutcome struct {
		ctx *TaskContext
		err error
	}

	results := make([]branchOutcome, len(targets))
	var wg sync.WaitGroup

	for i, target := range targets {
		item := WorkItem{
			StepID:       int(stepCounter.Load()),
			OrderKey:     ComputeOrderKey(target, i),
			NodeID:       target,
			ParentNodeID: target,
			EdgeIndex:    i,
		}

		enqueueCtx := ctx
		var cancel context.CancelFunc
		if e.opts.BackpressureTimeout > 0 {
			enqueueCtx, cancel = context.WithTimeout(ctx, e.opts.BackpressureTimeout)
		}
		enqueueErr := e.frontier.Enqueue(enqueueCtx, item)
		if cancel != nil {
			cancel()
		}
		if enqueueErr != nil {
			if e.metrics != nil {
				e.metrics.IncrementBackpressure(runID, "frontier_full")
			}
			return nil, ErrBackpressureTimeout
		}
		if _, err := e.frontier.Dequeue(ctx); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.UpdateQueueDepth(e.frontier.Len())
		}

		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()

			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				results[i] = branchOutcome{err: ctx.Err()}
				return
			}

			if e.metrics != nil {
				e.metrics.UpdateInflightNodes(len(e.sem))
			}

			branchCtx := base.CloneForBranch()
			out, err := e.dispatch(ctx, runID, target, branchCtx, stepCounter)
			results[i] = branchOutcome{ctx: out, err: err}
		}(i, target)
	}
	wg.Wait()

	merged := base
	inherited := make(map[string]bool)
	for _, id := range base.NodeOutputs.Order() {
		inherited[id] = true
	}
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.ctx == nil || r.ctx == base {
			continue
		}
		// Each branch started from a clone of base, so only the outputs it
		// recorded itself are merged back.
		added := NewTaskContext(r.ctx.EventData)
		for _, id := range r.ctx.NodeOutputs.Order() {
			if !inherited[id] {
				v, _ := r.ctx.NodeOutputs.Get(id)
				added.NodeOutputs.Set(id, v)
			}
		}
		if err := merged.MergeFrom(added); err != nil {
			if e.metrics != nil {
				e.metrics.IncrementMergeConflicts(runID, "node_output_collision")
			}
			return nil, err
		}
	}
	return merged, nil
}

func (e *Engine) matchingEdges(nodeID string, tc *TaskContext) []Edge {
	var out []Edge
	for _, edge := range e.workflow.edgesFrom(nodeID) {
		if edge.When == nil || edge.When(tc) {
			out = append(out, edge)
		}
	}
	return out
}

func edgeTargets(edges []Edge) []string {
	out := make([]string, len(edges))
	for i, edge := range edges {
		out[i] = edge.To
	}
	return out
}

func (e *Engine) emitEvent(runID, nodeID string, step int, msg string, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

// SaveCheckpoint captures a named checkpoint from runID's last-saved
// state, so a later call to ResumeFrom can branch execution from this
// point under a new run id.
func (e *Engine) SaveCheckpoint(ctx context.Context, runID, label string) error {
	if e.checkpoints == nil {
		return &EngineError{Message: "engine has no checkpoint store configured", Code: "NO_CHECKPOINT_STORE"}
	}
	cp, ok, err := e.checkpoints.Load(ctx, runID)
	if err != nil {
		return &EngineError{Message: "cannot create checkpoint: " + err.Error(), Code: "RUN_NOT_FOUND"}
	}
	if !ok {
		return &EngineError{Message: "cannot create checkpoint: run state not found: " + runID, Code: "RUN_NOT_FOUND"}
	}
	if err := e.checkpoints.SaveNamed(ctx, label, cp); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "CHECKPOINT_SAVE_FAILED"}
	}
	e.emitEvent(runID, "", cp.StepID, "checkpoint_saved", map[string]interface{}{"checkpoint_id": label})
	return nil
}

// ResumeFrom loads a named checkpoint and continues execution from
// startNode using the checkpoint's context as the carried-forward state,
// under a fresh run id.
func (e *Engine) ResumeFrom(ctx context.Context, label, newRunID, startNode string) (*TaskContext, error) {
	if e.checkpoints == nil {
		return nil, &EngineError{Message: "engine has no checkpoint store configured", Code: "NO_CHECKPOINT_STORE"}
	}
	cp, ok, err := e.checkpoints.LoadNamed(ctx, label)
	if err != nil || !ok {
		msg := "cannot resume: checkpoint not found: " + label
		if err != nil {
			msg = "cannot resume: " + err.Error()
		}
		return nil, &EngineError{Message: msg, Code: "CHECKPOINT_NOT_FOUND"}
	}

	e.mu.RLock()
	_, exists := e.workflow.nodes[startNode]
	e.mu.RUnlock()
	if !exists {
		return nil, &EngineError{Message: "resume start node does not exist: " + startNode, Code: "NODE_NOT_FOUND"}
	}

	e.emitEvent(newRunID, startNode, 0, "resumed_from_checkpoint", map[string]interface{}{"checkpoint_id": label})

	ctx = context.WithValue(ctx, RunIDKey, newRunID)
	ctx = context.WithValue(ctx, RNGKey, initRNG(newRunID))
	e.frontier = NewFrontier(e.queueDepth())
	e.sem = make(chan struct{}, e.maxWorkers())
	e.recordedIOs = nil
	if e.opts.ReplayMode {
		e.replayFeed = cp.RecordedIOs
	}

	var stepCounter atomic.Int64
	final, err := e.dispatch(ctx, newRunID, startNode, cp.Context, &stepCounter)
	if err != nil {
		return nil, err
	}
	if e.checkpoints != nil {
		e.saveRunCheckpoint(ctx, newRunID, int(stepCounter.Load()), final)
	}
	return final, nil
}
