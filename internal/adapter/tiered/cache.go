// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/SpendPilot/internal/port/cache"
)

// Cache combines an in-process L1 with a shared remote L2. Get checks L1
// first, then L2, backfilling L1 on an L2 hit. An unavailable L2 degrades to
// L1-only caching instead of failing the caller.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. l1Expire caps how long entries live in L1, so
// replicas converge on L2 contents. A nil l2 yields an L1-only cache.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if c.l1Expire > 0 && (ttl <= 0 || ttl > c.l1Expire) {
		return c.l1Expire
	}
	return ttl
}

// Get checks L1, then L2.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || c.l2 == nil {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1TTL(0))
	}
	return val, found, nil
}

// Set writes L1, then L2. An L2 failure is returned after L1 is populated.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Delete(ctx, key)
}
