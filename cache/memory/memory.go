// Package memory implements cache.Cache with an in-process map. It is
// suitable for a single server process only.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"pkt.systems/rshell/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Config tunes the in-process store.
type Config struct {
	// JanitorInterval controls how often expired entries are swept. Zero
	// disables the sweeper; expired entries are still hidden on read.
	JanitorInterval time.Duration
	Clock           cache.Clock
}

// Store is the in-process backend.
type Store struct {
	mu     sync.Mutex
	keys   map[string]entry
	hashes map[string]map[string]entry
	now    cache.Clock
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// New returns a store without a background sweeper.
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig returns a configured store.
func NewWithConfig(cfg Config) *Store {
	s := &Store{
		keys:   make(map[string]entry),
		hashes: make(map[string]map[string]entry),
		now:    cfg.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.JanitorInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.janitor(cfg.JanitorInterval)
	}
	return s
}

func (s *Store) janitor(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.keys {
		if e.expired(now) {
			delete(s.keys, k)
		}
	}
	for h, fields := range s.hashes {
		for f, e := range fields {
			if e.expired(now) {
				delete(fields, f)
			}
		}
		if len(fields) == 0 {
			delete(s.hashes, h)
		}
	}
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}

// liveKey returns the entry under key if present and unexpired. Caller holds mu.
func (s *Store) liveKey(key string) (entry, bool) {
	e, ok := s.keys[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.keys, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) liveField(hash, field string) (entry, bool) {
	fields := s.hashes[hash]
	if fields == nil {
		return entry{}, false
	}
	e, ok := fields[field]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(fields, field)
		return entry{}, false
	}
	return e, true
}

// Get implements cache.Cache.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, cache.ErrClosed
	}
	e, ok := s.liveKey(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return clone(e.value), nil
}

// Set implements cache.Cache.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.ErrClosed
	}
	s.keys[key] = entry{value: clone(value), expiresAt: s.deadline(ttl)}
	return nil
}

// SetNX implements cache.Cache.
func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, cache.ErrClosed
	}
	if _, ok := s.liveKey(key); ok {
		return false, nil
	}
	s.keys[key] = entry{value: clone(value), expiresAt: s.deadline(ttl)}
	return true, nil
}

// Del implements cache.Cache.
func (s *Store) Del(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, cache.ErrClosed
	}
	_, ok := s.liveKey(key)
	delete(s.keys, key)
	return ok, nil
}

// CompareAndDelete implements cache.Cache.
func (s *Store) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, cache.ErrClosed
	}
	e, ok := s.liveKey(key)
	if !ok || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

// HGet implements cache.Cache.
func (s *Store) HGet(_ context.Context, hash, field string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, cache.ErrClosed
	}
	e, ok := s.liveField(hash, field)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return clone(e.value), nil
}

func (s *Store) putField(hash, field string, value []byte, ttl time.Duration) {
	fields := s.hashes[hash]
	if fields == nil {
		fields = make(map[string]entry)
		s.hashes[hash] = fields
	}
	fields[field] = entry{value: clone(value), expiresAt: s.deadline(ttl)}
}

// HSet implements cache.Cache.
func (s *Store) HSet(_ context.Context, hash, field string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.ErrClosed
	}
	s.putField(hash, field, value, ttl)
	return nil
}

// HSetNX implements cache.Cache.
func (s *Store) HSetNX(_ context.Context, hash, field string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, cache.ErrClosed
	}
	if _, ok := s.liveField(hash, field); ok {
		return false, nil
	}
	s.putField(hash, field, value, ttl)
	return true, nil
}

// HDel implements cache.Cache.
func (s *Store) HDel(_ context.Context, hash, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, cache.ErrClosed
	}
	_, ok := s.liveField(hash, field)
	if fields := s.hashes[hash]; fields != nil {
		delete(fields, field)
		if len(fields) == 0 {
			delete(s.hashes, hash)
		}
	}
	return ok, nil
}

// HGetAll implements cache.Cache.
func (s *Store) HGetAll(_ context.Context, hash string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, cache.ErrClosed
	}
	out := make(map[string][]byte)
	now := s.now()
	for field, e := range s.hashes[hash] {
		if e.expired(now) {
			delete(s.hashes[hash], field)
			continue
		}
		out[field] = clone(e.value)
	}
	return out, nil
}

// Close stops the sweeper. Further calls fail with cache.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return nil
}

var _ cache.Cache = (*Store)(nil)
