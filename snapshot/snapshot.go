// Package snapshot implements compressed aggregate snapshotting on top of
// an eventlog.Store: deciding when to snapshot, which codec to use, and how
// long to retain older snapshots.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/conductorhq/conductor-go/eventlog"
	"github.com/conductorhq/conductor-go/graph/value"
)

func encodeBody(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeBody(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// Codec names recognized by the compression policy.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionLZ4  = "lz4"
)

// Options configures a Manager's compression and retention policy.
type Options struct {
	// CompressionType is the codec attempted when a payload exceeds
	// CompressionThresholdBytes. One of CompressionNone, CompressionGzip,
	// CompressionLZ4.
	CompressionType string

	// CompressionThresholdBytes is the minimum serialized payload size
	// before compression is attempted at all.
	CompressionThresholdBytes int

	// MinCompressionRatio is the maximum acceptable compressed/original
	// size ratio; compression is rejected (stored as none) above it.
	MinCompressionRatio float64

	// SnapshotFrequency is the minimum number of aggregate versions
	// between snapshots.
	SnapshotFrequency int64

	// MaxSnapshotsPerAggregate caps the snapshot versions Prune keeps in
	// the Manager's bookkeeping; Prune reports the older ones oldest-first
	// but does not delete them from the backing store.
	MaxSnapshotsPerAggregate int
}

// DefaultOptions mirrors the defaults called out in the original system's
// configuration surface.
func DefaultOptions() Options {
	return Options{
		CompressionType:           CompressionGzip,
		CompressionThresholdBytes: 1024,
		MinCompressionRatio:       0.9,
		SnapshotFrequency:         100,
		MaxSnapshotsPerAggregate:  3,
	}
}

// Manager creates, restores, and retires snapshots for an eventlog.Store.
type Manager struct {
	store   eventlog.Store
	opts    Options
	history map[string][]int64 // aggregateID -> snapshot versions, ascending, for retention bookkeeping
}

// NewManager returns a Manager backed by store.
func NewManager(store eventlog.Store, opts Options) *Manager {
	return &Manager{store: store, opts: opts, history: make(map[string][]int64)}
}

// ShouldCreate reports whether enough versions have elapsed since the last
// snapshot to justify creating a new one.
func (m *Manager) ShouldCreate(ctx context.Context, aggregateID string, currentVersion int64) (bool, error) {
	last, err := m.store.GetLatestSnapshot(ctx, aggregateID)
	if err == eventlog.ErrNotFound {
		return currentVersion > 0, nil
	}
	if err != nil {
		return false, err
	}
	return currentVersion-last.Version >= m.opts.SnapshotFrequency, nil
}

// CreateSnapshot compresses payload per policy and persists it via the
// backing store.
func (m *Manager) CreateSnapshot(ctx context.Context, aggregateID string, version int64, payload value.Value) error {
	raw, err := value.CanonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("snapshot: marshal payload: %w", err)
	}

	codec := CompressionNone
	body := raw
	if len(raw) >= m.opts.CompressionThresholdBytes && m.opts.CompressionType != CompressionNone {
		compressed, err := compress(m.opts.CompressionType, raw)
		if err == nil {
			ratio := float64(len(compressed)) / float64(len(raw))
			if ratio <= m.opts.MinCompressionRatio {
				codec = m.opts.CompressionType
				body = compressed
			}
		}
	}

	snap := eventlog.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       value.Object(map[string]value.Value{"body": value.String(encodeBody(body))}),
		Compression: codec,
	}
	if err := m.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	m.history[aggregateID] = append(m.history[aggregateID], version)
	return nil
}

// Restore reads the latest snapshot, decompresses it, and returns its
// decoded payload.
func (m *Manager) Restore(ctx context.Context, aggregateID string) (value.Value, int64, error) {
	snap, err := m.store.GetLatestSnapshot(ctx, aggregateID)
	if err != nil {
		return value.Value{}, 0, err
	}
	fields, err := snap.State.AsObject()
	if err != nil {
		return value.Value{}, 0, fmt.Errorf("snapshot: malformed snapshot state: %w", err)
	}
	encoded, err := fields["body"].AsString()
	if err != nil {
		return value.Value{}, 0, fmt.Errorf("snapshot: malformed snapshot body: %w", err)
	}
	body, err := decodeBody(encoded)
	if err != nil {
		return value.Value{}, 0, err
	}

	raw, err := decompress(snap.Compression, body)
	if err != nil {
		return value.Value{}, 0, fmt.Errorf("snapshot: decompress: %w", err)
	}
	payload, err := value.FromJSON(raw)
	if err != nil {
		return value.Value{}, 0, fmt.Errorf("snapshot: unmarshal payload: %w", err)
	}
	return payload, snap.Version, nil
}

// Prune drops the oldest snapshot versions for aggregateID beyond
// MaxSnapshotsPerAggregate from the Manager's bookkeeping and returns
// them, oldest first. Only snapshots created through this Manager are
// counted. Nothing is deleted from the backing store: the pruned
// snapshots stay stored, and events are never touched.
func (m *Manager) Prune(aggregateID string) []int64 {
	versions := m.history[aggregateID]
	if len(versions) <= m.opts.MaxSnapshotsPerAggregate {
		return nil
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	cut := len(versions) - m.opts.MaxSnapshotsPerAggregate
	pruned := append([]int64(nil), versions[:cut]...)
	m.history[aggregateID] = versions[cut:]
	return pruned
}

func compress(codec string, raw []byte) ([]byte, error) {
	switch codec {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

func decompress(codec string, body []byte) ([]byte, error) {
	switch codec {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	default:
		return body, nil
	}
}
