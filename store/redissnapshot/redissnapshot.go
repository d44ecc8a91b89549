// Package redissnapshot wraps a store.SessionStore with a Redis-backed
// fast-path cache for session snapshots: Load checks Redis first and only
// falls back to the underlying store (typically mongosession) on a cache
// miss, while Commit writes through to both. A cache write that fails is
// ignored, so until its TTL expires the cache can keep serving an older
// snapshot than the durable copy. There is no teacher precedent for
// this specific cache-aside shape (the teacher has no Redis dependency at
// all); it follows the standard redis/go-redis/v9 client API directly,
// structured the same way mongosession wraps its own driver — a thin Store
// around a client handle, JSON-encoding the same store.Snapshot value
// mongosession persists as BSON.
package redissnapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/windrose/agentkit/store"
)

const defaultTTL = 10 * time.Minute

// Cache wraps a store.SessionStore with a Redis read-through/write-through
// cache in front of it.
type Cache struct {
	rdb       *redis.Client
	backing   store.SessionStore
	keyPrefix string
	ttl       time.Duration
}

// Options configures a Cache.
type Options struct {
	Redis     *redis.Client
	Backing   store.SessionStore
	KeyPrefix string
	TTL       time.Duration
}

// New returns a Cache fronting opts.Backing with opts.Redis.
func New(opts Options) (*Cache, error) {
	if opts.Redis == nil {
		return nil, errors.New("redissnapshot: redis client is required")
	}
	if opts.Backing == nil {
		return nil, errors.New("redissnapshot: backing store is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "agentkit:snapshot:"
	}
	return &Cache{rdb: opts.Redis, backing: opts.Backing, keyPrefix: prefix, ttl: ttl}, nil
}

func (c *Cache) key(sessionID string) string {
	return c.keyPrefix + sessionID
}

// Load implements store.SessionStore. A Redis error falls back to the
// backing store rather than surfacing a cache-layer failure to the caller;
// only a genuine miss in both is reported as store.ErrSnapshotNotFound.
func (c *Cache) Load(ctx context.Context, sessionID string) (store.Snapshot, error) {
	if raw, err := c.rdb.Get(ctx, c.key(sessionID)).Bytes(); err == nil {
		var snap store.Snapshot
		if jerr := json.Unmarshal(raw, &snap); jerr == nil {
			return snap, nil
		}
	}

	snap, err := c.backing.Load(ctx, sessionID)
	if err != nil {
		return store.Snapshot{}, err
	}
	c.warm(ctx, snap)
	return snap, nil
}

// Commit implements store.SessionStore, writing through to both the cache
// and the backing store. The backing store is the durable source of truth;
// a cache write failure is not fatal as long as it succeeds there.
func (c *Cache) Commit(ctx context.Context, snap store.Snapshot) error {
	if err := c.backing.Commit(ctx, snap); err != nil {
		return fmt.Errorf("redissnapshot: commit to backing store: %w", err)
	}
	c.warm(ctx, snap)
	return nil
}

func (c *Cache) warm(ctx context.Context, snap store.Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, c.key(snap.SessionID), raw, c.ttl)
}
