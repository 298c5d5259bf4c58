// Package graph provides the core workflow execution engine.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RecordedIO captures one external interaction (an API call, a database
// query) so a later run can replay it without re-invoking the external
// service.
//
// Every ExternalTool node gets a RecordedIO written during live execution.
// On replay the engine matches recordings by (NodeID, Attempt) and returns
// the stored response instead of invoking the tool again (under
// StrictReplay it invokes the tool and compares hashes).
//
// Hash lets the engine detect mismatches: if a live run under replay
// produces a response whose hash differs from the recording, that's
// ErrReplayMismatch — a sign the node isn't actually deterministic.
type RecordedIO struct {
	// NodeID identifies the node that performed this I/O operation.
	NodeID string `json:"node_id"`

	// Attempt is the retry attempt number this I/O corresponds to.
	// This allows matching I/O recordings to specific retry attempts.
	Attempt int `json:"attempt"`

	// Request is the serialized request data sent to the external service.
	// Stored as JSON for cross-language compatibility and human readability.
	Request json.RawMessage `json:"request"`

	// Response is the serialized response data received from the external service.
	// Stored as JSON for cross-language compatibility and human readability.
	Response json.RawMessage `json:"response"`

	// Hash is a SHA-256 hash of the response content, used for mismatch detection.
	// during replay. Format: "sha256:hex_encoded_hash".
	Hash string `json:"hash"`

	// Timestamp records when this I/O operation was captured.
	Timestamp time.Time `json:"timestamp"`

	// Duration is how long the I/O operation took to complete.
	// This can be used for performance analysis and replay simulation.
	Duration time.Duration `json:"duration"`
}

// recordIO serializes a node's request/response pair to JSON, hashes the
// response, and returns the resulting RecordedIO for the engine to stash in
// a checkpoint.
//
// The engine calls this after every live ExternalTool invocation. On replay,
// lookupRecordedIO finds the recording by (nodeID, attempt) so the node's
// external call doesn't run again.
func recordIO(nodeID string, attempt int, request, response interface{}) (RecordedIO, error) {
	start := time.Now()

	requestJSON, err := json.Marshal(request)
	if err != nil {
		return RecordedIO{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		return RecordedIO{}, fmt.Errorf("failed to marshal response: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(responseJSON)
	hashStr := "sha256:" + hex.EncodeToString(hasher.Sum(nil))

	return RecordedIO{
		NodeID:    nodeID,
		Attempt:   attempt,
		Request:   json.RawMessage(requestJSON),
		Response:  json.RawMessage(responseJSON),
		Hash:      hashStr,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}, nil
}

// lookupRecordedIO finds a recording by (nodeID, attempt) in a checkpoint's
// recorded I/O list. The same node can carry separate recordings per retry
// attempt, so both fields must match.
func lookupRecordedIO(recordings []RecordedIO, nodeID string, attempt int) (RecordedIO, bool) {
	for _, rec := range recordings {
		if rec.NodeID == nodeID && rec.Attempt == attempt {
			return rec, true
		}
	}
	return RecordedIO{}, false
}

// verifyReplayHash compares a live response's hash against a recorded one
// under StrictReplay, returning ErrReplayMismatch on divergence. Typical
// causes: an unseeded RNG, reading wall-clock time directly, unordered map
// iteration, or any other source of non-determinism in the node.
func verifyReplayHash(recorded RecordedIO, actualResponse interface{}) error {
	actualJSON, err := json.Marshal(actualResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal actual response: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(actualJSON)
	actualHash := "sha256:" + hex.EncodeToString(hasher.Sum(nil))

	if actualHash != recorded.Hash {
		return fmt.Errorf("%w: expected %s, got %s", ErrReplayMismatch, recorded.Hash, actualHash)
	}

	return nil
}
