package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor-go/eventlog"
	"github.com/conductorhq/conductor-go/graph/value"
)

// SagaStepAction runs either the forward or compensating half of a step.
type SagaStepAction func(ctx context.Context, priorOutputs map[string]value.Value) (value.Value, error)

// SagaStep is one entry in a saga definition.
type SagaStep struct {
	StepID       string
	Forward      SagaStepAction
	Compensate   SagaStepAction
	RetryPolicy  *RetryPolicy
}

// SagaState enumerates a saga execution's lifecycle.
type SagaState string

const (
	SagaRunning     SagaState = "running"
	SagaCompensating SagaState = "compensating"
	SagaCompleted   SagaState = "completed"
	SagaFailed      SagaState = "failed"
	SagaAborted     SagaState = "aborted"
)

// SagaExecution tracks one run of a saga definition.
type SagaExecution struct {
	SagaID              string
	DefinitionID         string
	StepCursor           int
	CompletedStepOutputs map[string]value.Value
	State                SagaState
	PerStepStatus        map[string]string
}

// Saga runs a fixed, ordered sequence of steps with automatic reverse-order
// compensation on failure, appending its transitions to an EventLog keyed
// by saga ID: step started, completed and failed, compensation started,
// completed and failed, and saga completed or failed. A step whose
// compensation succeeds gets no event of its own. Run always starts a new
// execution; there is no operation that resumes one from the log.
type Saga struct {
	definitionID string
	steps        []SagaStep
	store        eventlog.Store
}

// NewSaga returns a Saga for definitionID with the given ordered steps,
// persisting transitions to store.
func NewSaga(definitionID string, steps []SagaStep, store eventlog.Store) *Saga {
	return &Saga{definitionID: definitionID, steps: steps, store: store}
}

// Run executes the saga to completion or failure, persisting each
// transition as it happens.
func (s *Saga) Run(ctx context.Context) (*SagaExecution, error) {
	exec := &SagaExecution{
		SagaID:               uuid.NewString(),
		DefinitionID:         s.definitionID,
		State:                SagaRunning,
		CompletedStepOutputs: make(map[string]value.Value),
		PerStepStatus:        make(map[string]string),
	}

	for i, step := range s.steps {
		exec.StepCursor = i
		if err := s.record(ctx, exec.SagaID, "saga.step_started", step.StepID, nil); err != nil {
			return exec, err
		}

		output, err := s.runForward(ctx, step, exec.CompletedStepOutputs)
		if err != nil {
			exec.PerStepStatus[step.StepID] = "failed"
			_ = s.record(ctx, exec.SagaID, "saga.step_failed", step.StepID, value.String(err.Error()))
			return s.compensate(ctx, exec, i-1, err)
		}

		exec.CompletedStepOutputs[step.StepID] = output
		exec.PerStepStatus[step.StepID] = "completed"
		if err := s.record(ctx, exec.SagaID, "saga.step_completed", step.StepID, output); err != nil {
			return exec, err
		}
	}

	exec.State = SagaCompleted
	if err := s.record(ctx, exec.SagaID, "saga.completed", "", nil); err != nil {
		return exec, err
	}
	return exec, nil
}

func (s *Saga) runForward(ctx context.Context, step SagaStep, priorOutputs map[string]value.Value) (value.Value, error) {
	if step.RetryPolicy == nil {
		return step.Forward(ctx, priorOutputs)
	}
	var out value.Value
	err := Do(ctx, step.RetryPolicy, nil, func(ctx context.Context) error {
		o, err := step.Forward(ctx, priorOutputs)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// compensate invokes compensating actions for steps fromStep down to 0 in
// reverse order. At the first compensation failure it records the failure,
// moves the saga to failed and stops: the remaining steps are not
// compensated and no compensation is retried.
func (s *Saga) compensate(ctx context.Context, exec *SagaExecution, fromStep int, cause error) (*SagaExecution, error) {
	exec.State = SagaCompensating
	if err := s.record(ctx, exec.SagaID, "saga.compensation_started", "", value.String(cause.Error())); err != nil {
		return exec, err
	}

	for i := fromStep; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		_, err := step.Compensate(ctx, exec.CompletedStepOutputs)
		if err != nil {
			exec.PerStepStatus[step.StepID] = "compensation_failed"
			_ = s.record(ctx, exec.SagaID, "saga.compensation_failed", step.StepID, value.String(err.Error()))
			exec.State = SagaFailed
			_ = s.record(ctx, exec.SagaID, "saga.failed", "", value.String(cause.Error()))
			return exec, fmt.Errorf("saga: compensation failed at step %s: %w", step.StepID, err)
		}
		exec.PerStepStatus[step.StepID] = "compensated"
	}

	if err := s.record(ctx, exec.SagaID, "saga.compensation_completed", "", nil); err != nil {
		return exec, err
	}
	exec.State = SagaFailed
	if err := s.record(ctx, exec.SagaID, "saga.failed", "", value.String(cause.Error())); err != nil {
		return exec, err
	}
	return exec, cause
}

func (s *Saga) record(ctx context.Context, sagaID, eventType, stepID string, payload value.Value) error {
	if payload.IsNull() {
		payload = value.Object(map[string]value.Value{})
	}
	fields := map[string]value.Value{"saga_id": value.String(sagaID), "payload": payload}
	if stepID != "" {
		fields["step_id"] = value.String(stepID)
	}
	wrapped := value.Object(fields)

	existing, err := s.store.GetEvents(ctx, sagaID, 0)
	if err != nil {
		return err
	}
	version := int64(len(existing)) + 1
	checksum, err := eventlog.ComputeChecksum(sagaID, version, eventType, wrapped)
	if err != nil {
		return err
	}
	env := eventlog.Envelope{
		EventID:     uuid.NewString(),
		AggregateID: sagaID,
		EventType:   eventType,
		Version:     version,
		Payload:     wrapped,
		Checksum:    checksum,
		RecordedAt:  time.Now().UTC(),
	}
	return s.store.Append(ctx, []eventlog.Envelope{env})
}
