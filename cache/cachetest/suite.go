// Package cachetest holds the behavioural suite every cache backend must pass.
package cachetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/rshell/cache"
)

// Factory returns a fresh backend and a function that moves its clock forward.
type Factory func(t *testing.T) (cache.Cache, func(time.Duration))

// Run exercises the full cache contract against the backend built by newCache.
func Run(t *testing.T, newCache Factory) {
	t.Run("GetSetDel", func(t *testing.T) { testGetSetDel(t, newCache) })
	t.Run("SetNX", func(t *testing.T) { testSetNX(t, newCache) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, newCache) })
	t.Run("CompareAndDelete", func(t *testing.T) { testCompareAndDelete(t, newCache) })
	t.Run("Hash", func(t *testing.T) { testHash(t, newCache) })
	t.Run("ConcurrentSetNX", func(t *testing.T) { testConcurrentSetNX(t, newCache) })
}

func testGetSetDel(t *testing.T, newCache Factory) {
	ctx := context.Background()
	c, _ := newCache(t)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := c.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, _ := c.Get(ctx, "k"); string(got) != "v2" {
		t.Fatalf("expected overwrite, got %q", got)
	}
	deleted, err := c.Del(ctx, "k")
	if err != nil || !deleted {
		t.Fatalf("Del = %v, %v", deleted, err)
	}
	deleted, err = c.Del(ctx, "k")
	if err != nil || deleted {
		t.Fatalf("second Del = %v, %v", deleted, err)
	}
}

func testSetNX(t *testing.T, newCache Factory) {
	ctx := context.Background()
	c, _ := newCache(t)
	ok, err := c.SetNX(ctx, "lock", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = c.SetNX(ctx, "lock", []byte("b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v", ok, err)
	}
	if got, _ := c.Get(ctx, "lock"); string(got) != "a" {
		t.Fatalf("SetNX must not overwrite, got %q", got)
	}
}

func testExpiry(t *testing.T, newCache Factory) {
	ctx := context.Background()
	c, advance := newCache(t)
	if ok, err := c.SetNX(ctx, "lease", []byte("a"), 2*time.Second); err != nil || !ok {
		t.Fatalf("SetNX = %v, %v", ok, err)
	}
	if err := c.HSet(ctx, "ns", "f", []byte("x"), 2*time.Second); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	advance(3 * time.Second)
	if _, err := c.Get(ctx, "lease"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected expired key, got %v", err)
	}
	if _, err := c.HGet(ctx, "ns", "f"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected expired field, got %v", err)
	}
	ok, err := c.SetNX(ctx, "lease", []byte("b"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = %v, %v", ok, err)
	}
}

func testCompareAndDelete(t *testing.T, newCache Factory) {
	ctx := context.Background()
	c, _ := newCache(t)
	if err := c.Set(ctx, "k", []byte("token-a"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := c.CompareAndDelete(ctx, "k", []byte("token-b"))
	if err != nil || ok {
		t.Fatalf("foreign CompareAndDelete = %v, %v", ok, err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("key must survive foreign delete: %v", err)
	}
	ok, err = c.CompareAndDelete(ctx, "k", []byte("token-a"))
	if err != nil || !ok {
		t.Fatalf("owner CompareAndDelete = %v, %v", ok, err)
	}
	ok, err = c.CompareAndDelete(ctx, "missing", []byte("x"))
	if err != nil || ok {
		t.Fatalf("missing CompareAndDelete = %v, %v", ok, err)
	}
}

func testHash(t *testing.T, newCache Factory) {
	ctx := context.Background()
	c, _ := newCache(t)
	if _, err := c.HGet(ctx, "ns", "a"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := c.HSet(ctx, "ns", "a", []byte("1"), 0); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := c.HSet(ctx, "ns", "b", []byte("2"), 0); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := c.HSet(ctx, "other", "a", []byte("x"), 0); err != nil {
		t.Fatalf("HSet other: %v", err)
	}
	ok, err := c.HSetNX(ctx, "ns", "a", []byte("changed"), 0)
	if err != nil || ok {
		t.Fatalf("HSetNX existing = %v, %v", ok, err)
	}
	ok, err = c.HSetNX(ctx, "ns", "c", []byte("3"), 0)
	if err != nil || !ok {
		t.Fatalf("HSetNX new = %v, %v", ok, err)
	}
	all, err := c.HGetAll(ctx, "ns")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if len(all) != 3 || string(all["a"]) != "1" || string(all["c"]) != "3" {
		t.Fatalf("unexpected hash contents: %v", all)
	}
	deleted, err := c.HDel(ctx, "ns", "a")
	if err != nil || !deleted {
		t.Fatalf("HDel = %v, %v", deleted, err)
	}
	deleted, err = c.HDel(ctx, "ns", "a")
	if err != nil || deleted {
		t.Fatalf("second HDel = %v, %v", deleted, err)
	}
	all, _ = c.HGetAll(ctx, "empty")
	if len(all) != 0 {
		t.Fatalf("expected empty namespace, got %v", all)
	}
}

func testConcurrentSetNX(t *testing.T, newCache Factory) {
	ctx := context.Background()
	c, _ := newCache(t)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := c.SetNX(ctx, "race", []byte{byte('a' + i)}, time.Minute)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
