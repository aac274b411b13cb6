// Package lock implements a fast, reentrant, unfair lock on top of a shared
// cache.Cache.
//
// The lock is best effort. A holder keeps the key only until its ttl runs
// out, and a backend that loses the key during failover can grant the same
// name twice. Use it to keep operators from running the same console command
// concurrently, never to protect data whose correctness depends on it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"

	"pkt.systems/pslog"
	"pkt.systems/rshell/cache"
)

// KeyPrefix namespaces lock keys inside the cache.
const KeyPrefix = "rshell.lock."

// DefaultPollInterval is the retry interval of blocking acquires.
const DefaultPollInterval = 50 * time.Millisecond

var (
	// ErrInvalidTTL indicates a non-positive lease ttl.
	ErrInvalidTTL = errors.New("lock ttl must be positive")
	// ErrInvalidTimeout indicates a wait timeout outside (0, ttl].
	ErrInvalidTimeout = errors.New("lock wait timeout must be positive and not exceed the ttl")
	// ErrEmptyName indicates a missing lock name.
	ErrEmptyName = errors.New("lock name is required")
)

// Config tunes a Manager.
type Config struct {
	// Host overrides the hostname part of holder tokens.
	Host         string
	PollInterval time.Duration
	Clock        cache.Clock
	// OnAcquire, when set, observes every acquire attempt outcome:
	// "acquired", "reentered", "contended", "timeout", "error".
	OnAcquire func(name, result string)
}

type holdKey struct {
	name  string
	token string
}

// hold is the local reentrancy record of one holder on one lock name.
type hold struct {
	count     int
	expiresAt time.Time
}

// Manager hands out locks that share one process identity.
type Manager struct {
	cache   cache.Cache
	process string
	poll    time.Duration
	now     cache.Clock
	observe func(name, result string)
	log     pslog.Logger

	mu    sync.Mutex
	holds map[holdKey]*hold
}

// NewManager builds a Manager over c.
func NewManager(c cache.Cache, cfg Config, logger pslog.Logger) (*Manager, error) {
	if c == nil {
		return nil, errors.New("lock manager requires a cache")
	}
	host := cfg.Host
	if host == "" {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "localhost"
		}
		host = h
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cache:   c,
		process: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), xid.New().String()),
		poll:    cfg.PollInterval,
		now:     cfg.Clock,
		observe: cfg.OnAcquire,
		log:     logger,
		holds:   make(map[holdKey]*hold),
	}, nil
}

// Process returns the host/pid/serial identity shared by this manager's tokens.
func (m *Manager) Process() string {
	return m.process
}

// Token returns the holder token for a worker inside this process.
func (m *Manager) Token(worker string) string {
	return m.process + ":" + worker
}

// Lock is one holder's handle on one lock name.
type Lock struct {
	m     *Manager
	name  string
	key   string
	token string
	ttl   time.Duration
}

// New returns a handle for worker on name with the given lease ttl. Handles
// for the same worker and name share one reentrancy counter.
func (m *Manager) New(name, worker string, ttl time.Duration) (*Lock, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return &Lock{
		m:     m,
		name:  name,
		key:   KeyPrefix + name,
		token: m.Token(worker),
		ttl:   ttl,
	}, nil
}

// Name returns the lock name.
func (l *Lock) Name() string { return l.name }

// Token returns the holder token.
func (l *Lock) Token() string { return l.token }

func (m *Manager) record(name, result string) {
	if m.observe != nil {
		m.observe(name, result)
	}
}

// TryLock attempts one acquisition without waiting.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	m := l.m
	hk := holdKey{name: l.name, token: l.token}
	now := m.now()

	m.mu.Lock()
	if h := m.holds[hk]; h != nil && h.count > 0 && now.Before(h.expiresAt) {
		h.count++
		m.mu.Unlock()
		m.record(l.name, "reentered")
		return true, nil
	}
	m.mu.Unlock()

	ok, err := m.cache.SetNX(ctx, l.key, []byte(l.token), l.ttl)
	if err != nil {
		m.record(l.name, "error")
		return false, fmt.Errorf("acquire lock %s: %w", l.name, err)
	}
	if !ok {
		current, err := m.cache.Get(ctx, l.key)
		switch {
		case err == nil && string(current) == l.token:
			// Held by us through another goroutine of the same worker, or the
			// local record was lost. Adopt it with a fresh local lease.
		case err != nil && !errors.Is(err, cache.ErrNotFound):
			m.record(l.name, "error")
			return false, fmt.Errorf("inspect lock %s: %w", l.name, err)
		default:
			m.record(l.name, "contended")
			return false, nil
		}
	}

	m.mu.Lock()
	h := m.holds[hk]
	if h == nil || !now.Before(h.expiresAt) {
		h = &hold{}
		m.holds[hk] = h
	}
	if h.count == 0 {
		h.expiresAt = now.Add(l.ttl)
	}
	h.count++
	m.mu.Unlock()
	m.record(l.name, "acquired")
	return true, nil
}

// TryLockTimeout polls until the lock is acquired or timeout elapses. The
// timeout must be positive and not exceed the ttl.
func (l *Lock) TryLockTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 || timeout > l.ttl {
		return false, ErrInvalidTimeout
	}
	deadline := l.m.now().Add(timeout)
	for {
		ok, err := l.TryLock(ctx)
		if err != nil || ok {
			return ok, err
		}
		if !l.m.now().Before(deadline) {
			l.m.record(l.name, "timeout")
			return false, nil
		}
		timer := time.NewTimer(l.m.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(l.m.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Held reports the local reentrancy count for this holder.
func (l *Lock) Held() int {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if h := l.m.holds[holdKey{name: l.name, token: l.token}]; h != nil {
		return h.count
	}
	return 0
}

// Unlock releases one level of reentrancy. The backend key is removed with a
// compare-and-delete once the count reaches zero. Unlocking without holding
// is a no-op.
func (l *Lock) Unlock(ctx context.Context) error {
	m := l.m
	hk := holdKey{name: l.name, token: l.token}
	m.mu.Lock()
	h := m.holds[hk]
	if h == nil || h.count == 0 {
		m.mu.Unlock()
		m.log.Debug("lock release skipped", "lock", l.name, "reason", "not held")
		return nil
	}
	h.count--
	if h.count > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.holds, hk)
	m.mu.Unlock()

	deleted, err := m.cache.CompareAndDelete(ctx, l.key, []byte(l.token))
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	if !deleted {
		m.log.Warn("lock release skipped", "lock", l.name, "reason", "expired or taken by another holder")
	}
	return nil
}
