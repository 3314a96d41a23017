// Package cachetest provides a behavioural test suite for cache.Cache
// implementations.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/SpendPilot/internal/port/cache"
)

// Run exercises c against the cache.Cache contract. settle is called after
// every write for implementations that apply writes asynchronously; it may
// be nil.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	if settle == nil {
		settle = func() {}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "learning.insights.g1", []byte(`[{"id":"a"}]`), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, "learning.insights.g1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `[{"id":"a"}]` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "learning.benchmarks.g999")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		settle()
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		settle()
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q (found=%v)", val, found)
		}
	})
}
