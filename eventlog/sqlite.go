package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conductorhq/conductor-go/graph"
	"github.com/conductorhq/conductor-go/graph/value"
)

// SQLiteStore is a single-process Store backed by a SQLite database in WAL
// mode. A single connection (SetMaxOpenConns(1)) sidesteps SQLite's
// writer-serialization limits entirely instead of fighting them with retry
// loops.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) a SQLite-backed store at
// path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("eventlog: set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS event_envelopes (
	event_id     TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	version      INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	metadata     TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	recorded_at  DATETIME NOT NULL,
	global_seq   INTEGER,
	UNIQUE(aggregate_id, version)
);
CREATE INDEX IF NOT EXISTS idx_envelopes_aggregate ON event_envelopes(aggregate_id, version);
CREATE INDEX IF NOT EXISTS idx_envelopes_global_seq ON event_envelopes(global_seq);
CREATE INDEX IF NOT EXISTS idx_envelopes_event_type ON event_envelopes(event_type);

CREATE TABLE IF NOT EXISTS aggregate_snapshots (
	aggregate_id TEXT NOT NULL,
	version      INTEGER NOT NULL,
	state        TEXT NOT NULL,
	compression  TEXT NOT NULL,
	recorded_at  DATETIME NOT NULL,
	PRIMARY KEY (aggregate_id, version)
);
`)
	if err != nil {
		return fmt.Errorf("eventlog: create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, envelopes []Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	aggregateID := envelopes[0].AggregateID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: begin tx: %w", err)
	}
	defer tx.Rollback()

	var head int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM event_envelopes WHERE aggregate_id = ?`, aggregateID)
	if err := row.Scan(&head); err != nil {
		return fmt.Errorf("eventlog: read head version: %w", err)
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(global_seq) FROM event_envelopes`).Scan(&maxSeq); err != nil {
		return fmt.Errorf("eventlog: read global seq: %w", err)
	}
	seq := maxSeq.Int64

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO event_envelopes (event_id, aggregate_id, event_type, version, payload, metadata, checksum, recorded_at, global_seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("eventlog: prepare insert: %w", err)
	}
	defer stmt.Close()

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

		payloadJSON, err := value.CanonicalJSON(e.Payload)
		if err != nil {
			return &graph.SerializationError{Cause: err}
		}
		metaJSON, err := value.CanonicalJSON(e.Metadata)
		if err != nil {
			return &graph.SerializationError{Cause: err}
		}
		recordedAt := e.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		seq++
		if _, err := stmt.ExecContext(ctx, e.EventID, e.AggregateID, e.EventType, e.Version,
			string(payloadJSON), string(metaJSON), e.Checksum, recordedAt, seq); err != nil {
			return fmt.Errorf("eventlog: insert envelope: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, aggregate_id, event_type, version, payload, metadata, checksum, recorded_at
FROM event_envelopes WHERE aggregate_id = ? AND version >= ? ORDER BY version ASC`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *SQLiteStore) Replay(ctx context.Context, fromPosition int64, eventTypes []string, batchSize int) ([]Envelope, int64, error) {
	query := `SELECT event_id, aggregate_id, event_type, version, payload, metadata, checksum, recorded_at, global_seq
FROM event_envelopes WHERE global_seq > ?`
	args := []interface{}{fromPosition}
	if len(eventTypes) > 0 {
		query += " AND event_type IN (" + placeholders(len(eventTypes)) + ")"
		for _, t := range eventTypes {
			args = append(args, t)
		}
	}
	query += " ORDER BY global_seq ASC LIMIT ?"
	args = append(args, batchSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fromPosition, fmt.Errorf("eventlog: query replay: %w", err)
	}
	defer rows.Close()

	var out []Envelope
	pos := fromPosition
	for rows.Next() {
		var e Envelope
		var payloadJSON, metaJSON string
		var seq int64
		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.EventType, &e.Version, &payloadJSON, &metaJSON, &e.Checksum, &e.RecordedAt, &seq); err != nil {
			return nil, fromPosition, fmt.Errorf("eventlog: scan replay row: %w", err)
		}
		if err := decodeEnvelopeJSON(&e, payloadJSON, metaJSON); err != nil {
			return nil, fromPosition, err
		}
		out = append(out, e)
		pos = seq
	}
	return out, pos, rows.Err()
}

func (s *SQLiteStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM event_envelopes WHERE aggregate_id = ? LIMIT 1`, aggregateID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("eventlog: check aggregate exists: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	stateJSON, err := value.CanonicalJSON(snap.State)
	if err != nil {
		return &graph.SerializationError{Cause: err}
	}
	recordedAt := snap.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO aggregate_snapshots (aggregate_id, version, state, compression, recorded_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(aggregate_id, version) DO UPDATE SET state=excluded.state, compression=excluded.compression, recorded_at=excluded.recorded_at`,
		snap.AggregateID, snap.Version, string(stateJSON), snap.Compression, recordedAt)
	if err != nil {
		return fmt.Errorf("eventlog: save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT aggregate_id, version, state, compression, recorded_at
FROM aggregate_snapshots WHERE aggregate_id = ? ORDER BY version DESC LIMIT 1`, aggregateID)

	var snap Snapshot
	var stateJSON string
	if err := row.Scan(&snap.AggregateID, &snap.Version, &stateJSON, &snap.Compression, &snap.RecordedAt); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("eventlog: scan snapshot: %w", err)
	}
	state, err := value.FromJSON([]byte(stateJSON))
	if err != nil {
		return Snapshot{}, &graph.DeserializationError{Cause: err}
	}
	snap.State = state
	return snap, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEnvelopes(rows *sql.Rows) ([]Envelope, error) {
	var out []Envelope
	for rows.Next() {
		var e Envelope
		var payloadJSON, metaJSON string
		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.EventType, &e.Version, &payloadJSON, &metaJSON, &e.Checksum, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan envelope: %w", err)
		}
		if err := decodeEnvelopeJSON(&e, payloadJSON, metaJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeEnvelopeJSON(e *Envelope, payloadJSON, metaJSON string) error {
	payload, err := value.FromJSON([]byte(payloadJSON))
	if err != nil {
		return &graph.DeserializationError{Cause: err}
	}
	meta, err := value.FromJSON([]byte(metaJSON))
	if err != nil {
		return &graph.DeserializationError{Cause: err}
	}
	e.Payload = payload
	e.Metadata = meta
	return nil
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}
