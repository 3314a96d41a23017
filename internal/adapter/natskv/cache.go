// Package natskv implements the cache port using NATS JetStream KV as L2 remote cache.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Store is the subset of jetstream.KeyValue the cache uses.
type Store interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// Cache wraps a NATS JetStream KeyValue bucket as an L2 cache shared by all
// replicas. TTL is a bucket property; per-entry TTLs are ignored.
type Cache struct {
	kv Store
}

// New creates a NATS KV-backed cache.
func New(kv Store) *Cache {
	return &Cache{kv: kv}
}

// Get retrieves a value. Missing and deleted keys are reported as misses.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set stores a value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("natskv put %s: %w", key, err)
	}
	return nil
}

// Delete removes a value.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete %s: %w", key, err)
	}
	return nil
}
