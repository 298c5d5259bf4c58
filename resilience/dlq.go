package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/conductor-go/eventlog"
	"github.com/conductorhq/conductor-go/graph/value"
)

// DeadLetterEntry records a terminally failed event, scheduled for
// eventual reprocessing.
type DeadLetterEntry struct {
	EntryID       string      `json:"entry_id"`
	OriginalEvent value.Value `json:"original_event"`
	FailureReason string      `json:"failure_reason"`
	RetryCount    int         `json:"retry_count"`
	NextRetryAt   time.Time   `json:"next_retry_at"`
	FirstFailedAt time.Time   `json:"first_failed_at"`
}

// DLQOptions configures the background processor's backoff between
// reprocessing attempts.
type DLQOptions struct {
	MaxRetries         int
	BaseRetryDelay     time.Duration
	BackoffMultiplier  float64
	MaxRetryDelay      time.Duration
	ProcessingInterval time.Duration
}

// DefaultDLQOptions mirrors the defaults named in the configuration surface.
func DefaultDLQOptions() DLQOptions {
	return DLQOptions{
		MaxRetries:         5,
		BaseRetryDelay:     30 * time.Second,
		BackoffMultiplier:  2.0,
		MaxRetryDelay:      30 * time.Minute,
		ProcessingInterval: 10 * time.Second,
	}
}

const dlqAggregateID = "dlq:entries"
const dlqScheduleKey = "conductor:dlq:schedule"

// DeadLetterQueue persists failed events durably via eventlog.Store (so
// entries survive restarts) and schedules reprocessing via a Redis sorted
// set keyed by next_retry_at, avoiding a poll-everything scan as the
// queue grows.
type DeadLetterQueue struct {
	store eventlog.Store
	rdb   *redis.Client
	opts  DLQOptions
	seq   int64
}

// NewDeadLetterQueue returns a DeadLetterQueue backed by store for
// durability and rdb for retry scheduling.
func NewDeadLetterQueue(store eventlog.Store, rdb *redis.Client, opts DLQOptions) *DeadLetterQueue {
	return &DeadLetterQueue{store: store, rdb: rdb, opts: opts}
}

// Push records originalEvent as dead after exhausting its retries, and
// schedules it for reprocessing after BaseRetryDelay.
func (q *DeadLetterQueue) Push(ctx context.Context, originalEvent value.Value, failureReason string) (DeadLetterEntry, error) {
	now := time.Now().UTC()
	entry := DeadLetterEntry{
		EntryID:       uuid.NewString(),
		OriginalEvent: originalEvent,
		FailureReason: failureReason,
		RetryCount:    0,
		NextRetryAt:   now.Add(q.opts.BaseRetryDelay),
		FirstFailedAt: now,
	}
	if err := q.persist(ctx, entry); err != nil {
		return DeadLetterEntry{}, err
	}
	if err := q.schedule(ctx, entry); err != nil {
		return DeadLetterEntry{}, err
	}
	return entry, nil
}

func (q *DeadLetterQueue) persist(ctx context.Context, entry DeadLetterEntry) error {
	payload, err := entryToValue(entry)
	if err != nil {
		return err
	}
	q.seq++
	env, err := q.nextEnvelope(ctx, "dlq.entry_recorded", payload)
	if err != nil {
		return err
	}
	return q.store.Append(ctx, []eventlog.Envelope{env})
}

func (q *DeadLetterQueue) nextEnvelope(ctx context.Context, eventType string, payload value.Value) (eventlog.Envelope, error) {
	existing, err := q.store.GetEvents(ctx, dlqAggregateID, 0)
	if err != nil {
		return eventlog.Envelope{}, err
	}
	version := int64(len(existing)) + 1
	checksum, err := eventlog.ComputeChecksum(dlqAggregateID, version, eventType, payload)
	if err != nil {
		return eventlog.Envelope{}, err
	}
	return eventlog.Envelope{
		EventID:     uuid.NewString(),
		AggregateID: dlqAggregateID,
		EventType:   eventType,
		Version:     version,
		Payload:     payload,
		Checksum:    checksum,
		RecordedAt:  time.Now().UTC(),
	}, nil
}

func (q *DeadLetterQueue) schedule(ctx context.Context, entry DeadLetterEntry) error {
	return q.rdb.ZAdd(ctx, dlqScheduleKey, redis.Z{
		Score:  float64(entry.NextRetryAt.Unix()),
		Member: entry.EntryID,
	}).Err()
}

// Due returns entry IDs whose NextRetryAt has passed, for the background
// processor to re-submit.
func (q *DeadLetterQueue) Due(ctx context.Context, now time.Time) ([]string, error) {
	return q.rdb.ZRangeByScore(ctx, dlqScheduleKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
}

// MarkRetried advances entry's retry bookkeeping, scheduling it again
// unless MaxRetries has been exhausted, in which case it is removed from
// the schedule and left only in the durable log for manual inspection.
func (q *DeadLetterQueue) MarkRetried(ctx context.Context, entry DeadLetterEntry, succeeded bool) error {
	if succeeded {
		return q.rdb.ZRem(ctx, dlqScheduleKey, entry.EntryID).Err()
	}

	entry.RetryCount++
	if entry.RetryCount >= q.opts.MaxRetries {
		return q.rdb.ZRem(ctx, dlqScheduleKey, entry.EntryID).Err()
	}

	delay := float64(q.opts.BaseRetryDelay)
	for i := 0; i < entry.RetryCount; i++ {
		delay *= q.opts.BackoffMultiplier
	}
	d := time.Duration(delay)
	if q.opts.MaxRetryDelay > 0 && d > q.opts.MaxRetryDelay {
		d = q.opts.MaxRetryDelay
	}
	entry.NextRetryAt = time.Now().UTC().Add(d)

	payload, err := entryToValue(entry)
	if err != nil {
		return err
	}
	env, err := q.nextEnvelope(ctx, "dlq.entry_retried", payload)
	if err != nil {
		return err
	}
	if err := q.store.Append(ctx, []eventlog.Envelope{env}); err != nil {
		return err
	}
	return q.schedule(ctx, entry)
}

// Purge removes entry from the retry schedule permanently without
// recording a success, for operator-initiated discards.
func (q *DeadLetterQueue) Purge(ctx context.Context, entryID string) error {
	return q.rdb.ZRem(ctx, dlqScheduleKey, entryID).Err()
}

func entryToValue(entry DeadLetterEntry) (value.Value, error) {
	return value.Object(map[string]value.Value{
		"entry_id":        value.String(entry.EntryID),
		"original_event":  entry.OriginalEvent,
		"failure_reason":  value.String(entry.FailureReason),
		"retry_count":     value.Number(float64(entry.RetryCount)),
		"next_retry_at":   value.String(entry.NextRetryAt.Format(time.RFC3339Nano)),
		"first_failed_at": value.String(entry.FirstFailedAt.Format(time.RFC3339Nano)),
	}), nil
}
