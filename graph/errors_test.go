package graph

import (
	"errors"
	"testing"
)

func TestEngineErrorFormatsCodeAndMessage(t *testing.T) {
	err := &EngineError{Message: "bad graph", Code: "CYCLIC_GRAPH"}
	if err.Error() != "CYCLIC_GRAPH: bad graph" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}

	bare := &EngineError{Message: "no code"}
	if bare.Error() != "no code" {
		t.Fatalf("unexpected Error() without code: %q", bare.Error())
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	withField := &ValidationError{Field: "email", Reason: "must not be empty"}
	if withField.Error() != `validation: field "email": must not be empty` {
		t.Fatalf("unexpected Error(): %q", withField.Error())
	}

	noField := &ValidationError{Reason: "payload too large"}
	if noField.Error() != "validation: payload too large" {
		t.Fatalf("unexpected Error(): %q", noField.Error())
	}
}

func TestProcessingErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("downstream failure")
	err := &ProcessingError{Stage: "merge", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected ProcessingError to unwrap to its cause")
	}
}

func TestConcurrencyErrorFormatting(t *testing.T) {
	err := &ConcurrencyError{AggregateID: "agg-1", Expected: 3, Actual: 5}
	want := "concurrency conflict on agg-1: expected version 3, found 5"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestNotFoundErrorFormatting(t *testing.T) {
	err := &NotFoundError{Kind: "workflow", ID: "wf-7"}
	if err.Error() != "workflow not found: wf-7" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
}

func TestSerializationAndDeserializationErrorsUnwrap(t *testing.T) {
	cause := errors.New("unexpected EOF")

	ser := &SerializationError{Cause: cause}
	if !errors.Is(ser, cause) {
		t.Fatal("expected SerializationError to unwrap to its cause")
	}

	de := &DeserializationError{Cause: cause}
	if !errors.Is(de, cause) {
		t.Fatal("expected DeserializationError to unwrap to its cause")
	}
}

func TestConnectionPoolErrorFormattingWithAndWithoutCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	withCause := &ConnectionPoolError{Reason: "acquire", Cause: cause}
	if withCause.Error() != "connection pool: acquire: dial tcp: connection refused" {
		t.Fatalf("unexpected Error(): %q", withCause.Error())
	}

	withoutCause := &ConnectionPoolError{Reason: "pool exhausted"}
	if withoutCause.Error() != "connection pool: pool exhausted" {
		t.Fatalf("unexpected Error(): %q", withoutCause.Error())
	}
}

func TestCircuitOpenErrorFormatting(t *testing.T) {
	err := &CircuitOpenError{Name: "downstream-api", RetryAfter: "5s"}
	if err.Error() != "circuit downstream-api is open, retry after 5s" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
}

func TestPartialResultErrorFormatting(t *testing.T) {
	err := &PartialResultError{Succeeded: 3, Failed: 1}
	if err.Error() != "partial result: 3 succeeded, 1 failed" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
}

func TestCorruptedEventErrorFormatting(t *testing.T) {
	err := &CorruptedEventError{AggregateID: "agg-9", Version: 4}
	if err.Error() != "corrupted event: aggregate agg-9 version 4 failed checksum verification" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
}

func TestProtocolViolationErrorFormatting(t *testing.T) {
	err := &ProtocolViolationError{Reason: "duplicate request id"}
	if err.Error() != "protocol violation: duplicate request id" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrReplayMismatch,
		ErrNoProgress,
		ErrBackpressureTimeout,
		ErrIdempotencyViolation,
		ErrMaxAttemptsExceeded,
		ErrMaxStepsExceeded,
		ErrBackpressure,
		ErrInvalidRetryPolicy,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Fatalf("sentinel %d and %d unexpectedly compare equal: %v / %v", i, j, a, b)
			}
		}
	}
}
