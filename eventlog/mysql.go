package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/conductorhq/conductor-go/graph"
	"github.com/conductorhq/conductor-go/graph/value"
)

// MySQLStore is a multi-process Store backed by MySQL, suitable for
// deployments where several engine instances append to the same event log.
// Uses go-sql-driver/mysql with row-level locking (SELECT ... FOR UPDATE)
// to make the version check and insert atomic across connections, where
// SQLite's single-writer serialization was doing that job for free.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool to dsn and ensures the schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &MySQLStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS event_envelopes (
	event_id     VARCHAR(191) NOT NULL PRIMARY KEY,
	aggregate_id VARCHAR(191) NOT NULL,
	event_type   VARCHAR(191) NOT NULL,
	version      BIGINT NOT NULL,
	payload      LONGTEXT NOT NULL,
	metadata     LONGTEXT NOT NULL,
	checksum     VARCHAR(128) NOT NULL,
	recorded_at  DATETIME(6) NOT NULL,
	global_seq   BIGINT AUTO_INCREMENT,
	UNIQUE KEY uniq_aggregate_version (aggregate_id, version),
	KEY idx_global_seq (global_seq),
	KEY idx_event_type (event_type)
) ENGINE=InnoDB`)
	if err != nil {
		return fmt.Errorf("eventlog: create event_envelopes: %w", err)
	}

	_, err = s.db.Exec(`
CREATE TABLE IF NOT EXISTS aggregate_snapshots (
	aggregate_id VARCHAR(191) NOT NULL,
	version      BIGINT NOT NULL,
	state        LONGTEXT NOT NULL,
	compression  VARCHAR(16) NOT NULL,
	recorded_at  DATETIME(6) NOT NULL,
	PRIMARY KEY (aggregate_id, version)
) ENGINE=InnoDB`)
	if err != nil {
		return fmt.Errorf("eventlog: create aggregate_snapshots: %w", err)
	}
	return nil
}

func (s *MySQLStore) Append(ctx context.Context, envelopes []Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	aggregateID := envelopes[0].AggregateID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: begin tx: %w", err)
	}
	defer tx.Rollback()

	var head sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM event_envelopes WHERE aggregate_id = ? FOR UPDATE`, aggregateID)
	if err := row.Scan(&head); err != nil {
		return fmt.Errorf("eventlog: read head version: %w", err)
	}

	for i, e := range envelopes {
		if e.AggregateID != aggregateID {
			return &graph.ValidationError{Field: "aggregate_id", Reason: "Append requires a single aggregate per call"}
		}
		wantVersion := head.Int64 + int64(i) + 1
		if e.Version != wantVersion {
			return &graph.ConcurrencyError{AggregateID: aggregateID, Expected: e.Version, Actual: head.Int64}
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
		_, err = tx.ExecContext(ctx, `
INSERT INTO event_envelopes (event_id, aggregate_id, event_type, version, payload, metadata, checksum, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EventID, e.AggregateID, e.EventType, e.Version, string(payloadJSON), string(metaJSON), e.Checksum, recordedAt)
		if err != nil {
			return fmt.Errorf("eventlog: insert envelope: %w", err)
		}
	}

	return tx.Commit()
}

func (s *MySQLStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, aggregate_id, event_type, version, payload, metadata, checksum, recorded_at
FROM event_envelopes WHERE aggregate_id = ? AND version >= ? ORDER BY version ASC`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *MySQLStore) Replay(ctx context.Context, fromPosition int64, eventTypes []string, batchSize int) ([]Envelope, int64, error) {
	query := `SELECT event_id, aggregate_id, event_type, version, payload, metadata, checksum, recorded_at, global_seq
FROM event_envelopes WHERE global_seq > ?`
	args := []interface{}{fromPosition}
	if len(eventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventTypes)), ",")
		query += " AND event_type IN (" + placeholders + ")"
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

func (s *MySQLStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM event_envelopes WHERE aggregate_id = ? LIMIT 1`, aggregateID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("eventlog: check aggregate exists: %w", err)
	}
	return count > 0, nil
}

func (s *MySQLStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
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
ON DUPLICATE KEY UPDATE state=VALUES(state), compression=VALUES(compression), recorded_at=VALUES(recorded_at)`,
		snap.AggregateID, snap.Version, string(stateJSON), snap.Compression, recordedAt)
	if err != nil {
		return fmt.Errorf("eventlog: save snapshot: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
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

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
