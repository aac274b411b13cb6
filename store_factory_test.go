package rshell

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"pkt.systems/rshell/cache/memory"
	"pkt.systems/rshell/cache/redis"
	"pkt.systems/rshell/cache/sqlite"
)

func TestOpenCacheSchemes(t *testing.T) {
	ctx := context.Background()

	c, err := OpenCache(ctx, "")
	if err != nil {
		t.Fatalf("default cache: %v", err)
	}
	if _, ok := c.(*memory.Store); !ok {
		t.Fatalf("expected memory store for an empty url, got %T", c)
	}
	_ = c.Close()

	path := filepath.Join(t.TempDir(), "sub", "cache.db")
	c, err = OpenCache(ctx, "sqlite://"+path)
	if err != nil {
		t.Fatalf("sqlite cache: %v", err)
	}
	if _, ok := c.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", c)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("sqlite set: %v", err)
	}
	_ = c.Close()

	mr := miniredis.RunT(t)
	c, err = OpenCache(ctx, "redis://"+mr.Addr()+"/0?prefix=t.")
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	if _, ok := c.(*redis.Store); !ok {
		t.Fatalf("expected redis store, got %T", c)
	}
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("redis set: %v", err)
	}
	if !mr.Exists("t.k") {
		t.Fatalf("expected prefixed key in redis")
	}
	_ = c.Close()
}

func TestOpenCacheErrors(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{"nowhere", "ftp://x", "sqlite://", "redis://127.0.0.1:1"} {
		if c, err := OpenCache(ctx, raw); err == nil {
			_ = c.Close()
			t.Fatalf("expected error for %q", raw)
		}
	}
}
