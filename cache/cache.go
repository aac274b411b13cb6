// Package cache defines the key/value strategy shared by the session store
// and the distributed lock manager.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a missing or expired key or hash field.
var ErrNotFound = errors.New("cache: not found")

// ErrClosed indicates use after Close.
var ErrClosed = errors.New("cache: closed")

// Cache is a type-agnostic store of opaque values. A zero ttl means no
// expiry. SetNX and CompareAndDelete must be atomic with respect to every
// other client of the same backend.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) (bool, error)
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Hash operations address fields inside one named namespace. A non-zero
	// ttl on HSet/HSetNX bounds how long the record lives without a write.
	HGet(ctx context.Context, hash, field string) ([]byte, error)
	HSet(ctx context.Context, hash, field string, value []byte, ttl time.Duration) error
	HSetNX(ctx context.Context, hash, field string, value []byte, ttl time.Duration) (bool, error)
	HDel(ctx context.Context, hash, field string) (bool, error)
	HGetAll(ctx context.Context, hash string) (map[string][]byte, error)

	Close() error
}

// Clock returns the current time. Backends accept one for tests.
type Clock func() time.Time
