package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a backing Store with a Redis-backed read cache for
// snapshots, so that an engine resuming a hot aggregate doesn't round-trip
// to SQLite/MySQL on every restart. Writes always go to the backing store
// first; the cache is best-effort and never the system of record, so a
// Redis outage degrades to direct store reads rather than failing writes.
type CachedStore struct {
	backing Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore wraps backing with a Redis cache reachable at rdb, caching
// snapshot lookups for ttl.
func NewCachedStore(backing Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{backing: backing, rdb: rdb, ttl: ttl}
}

func (c *CachedStore) snapshotKey(aggregateID string) string {
	return "eventlog:snapshot:" + aggregateID
}

func (c *CachedStore) Append(ctx context.Context, envelopes []Envelope) error {
	if err := c.backing.Append(ctx, envelopes); err != nil {
		return err
	}
	if len(envelopes) > 0 {
		// New events invalidate any cached snapshot, which would otherwise
		// appear newer than the aggregate until the next explicit snapshot.
		c.rdb.Del(ctx, c.snapshotKey(envelopes[0].AggregateID))
	}
	return nil
}

func (c *CachedStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]Envelope, error) {
	return c.backing.GetEvents(ctx, aggregateID, fromVersion)
}

func (c *CachedStore) Replay(ctx context.Context, fromPosition int64, eventTypes []string, batchSize int) ([]Envelope, int64, error) {
	return c.backing.Replay(ctx, fromPosition, eventTypes, batchSize)
}

func (c *CachedStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	return c.backing.AggregateExists(ctx, aggregateID)
}

func (c *CachedStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if err := c.backing.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if raw, err := json.Marshal(snap); err == nil {
		c.rdb.Set(ctx, c.snapshotKey(snap.AggregateID), raw, c.ttl)
	}
	return nil
}

func (c *CachedStore) GetLatestSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
	raw, err := c.rdb.Get(ctx, c.snapshotKey(aggregateID)).Bytes()
	if err == nil {
		var snap Snapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return snap, nil
		}
	}

	snap, err := c.backing.GetLatestSnapshot(ctx, aggregateID)
	if err != nil {
		return Snapshot{}, err
	}
	if raw, err := json.Marshal(snap); err == nil {
		c.rdb.Set(ctx, c.snapshotKey(aggregateID), raw, c.ttl)
	}
	return snap, nil
}

func (c *CachedStore) Close() error {
	return c.backing.Close()
}
