package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/conductorhq/conductor-go/graph"
)

// MemoryStore is an in-process Store backed by maps guarded by a single
// mutex. Intended for tests and single-process prototyping: one RWMutex
// protects all maps rather than per-key locks, which keeps Append's
// atomicity trivial to reason about.
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string][]Envelope  // aggregateID -> ordered envelopes
	snapshots  map[string][]Snapshot  // aggregateID -> snapshots, ascending version
	allEvents  []Envelope             // global order for Replay
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]Envelope),
		snapshots: make(map[string][]Snapshot),
	}
}

func (m *MemoryStore) Append(ctx context.Context, envelopes []Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	aggregateID := envelopes[0].AggregateID

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.events[aggregateID]
	var head int64
	if len(current) > 0 {
		head = current[len(current)-1].Version
	}

	for i, e := range envelopes {
		if e.AggregateID != aggregateID {
			return &graph.ValidationError{Field: "aggregate_id", Reason: "Append requires a single aggregate per call"}
		}
		wantVersion := head + int64(i) + 1
		if e.Version != wantVersion {
			return &graph.ConcurrencyError{AggregateID: aggregateID, Expected: e.Version, Actual: head}
		}
		if !VerifyChecksum(e) {
			return &graph.CorruptedEventError{AggregateID: aggregateID, Version: e.Version}
		}
	}

	m.events[aggregateID] = append(current, envelopes...)
	m.allEvents = append(m.allEvents, envelopes...)
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.events[aggregateID]
	out := make([]Envelope, 0, len(all))
	for _, e := range all {
		if e.Version >= fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Replay(ctx context.Context, fromPosition int64, eventTypes []string, batchSize int) ([]Envelope, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeSet := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeSet[t] = true
	}

	var out []Envelope
	pos := fromPosition
	for i := int(fromPosition); i < len(m.allEvents) && len(out) < batchSize; i++ {
		e := m.allEvents[i]
		pos = int64(i + 1)
		if len(typeSet) > 0 && !typeSet[e.EventType] {
			continue
		}
		out = append(out, e)
	}
	return out, pos, nil
}

func (m *MemoryStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[aggregateID]
	return ok, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.AggregateID] = append(m.snapshots[snap.AggregateID], snap)
	sort.Slice(m.snapshots[snap.AggregateID], func(i, j int) bool {
		return m.snapshots[snap.AggregateID][i].Version < m.snapshots[snap.AggregateID][j].Version
	})
	return nil
}

func (m *MemoryStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := m.snapshots[aggregateID]
	if len(snaps) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return snaps[len(snaps)-1], nil
}

func (m *MemoryStore) Close() error { return nil }
