package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/rshell/cache"
	"pkt.systems/rshell/cache/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, c cache.Cache, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(c, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func keyExists(t *testing.T, c cache.Cache, name string) bool {
	t.Helper()
	_, err := c.Get(context.Background(), KeyPrefix+name)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	return err == nil
}

func TestTokenIdentifiesHostProcessWorker(t *testing.T) {
	m := newManager(t, memory.New(), Config{Host: "node-a"})
	token := m.Token("conn-1")
	if !strings.HasPrefix(token, "node-a:") || !strings.HasSuffix(token, ":conn-1") {
		t.Fatalf("unexpected token %q", token)
	}
	other := newManager(t, memory.New(), Config{Host: "node-a"})
	if other.Token("conn-1") == token {
		t.Fatalf("tokens of distinct managers must differ")
	}
}

func TestReentrantAcquireReleasesAfterMatchingUnlocks(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	m := newManager(t, c, Config{})
	l, err := m.New("deploy", "w1", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	const n = 3
	for i := 0; i < n; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil || !ok {
			t.Fatalf("TryLock %d = %v, %v", i, ok, err)
		}
	}
	if l.Held() != n {
		t.Fatalf("expected count %d, got %d", n, l.Held())
	}
	for i := 0; i < n-1; i++ {
		if err := l.Unlock(ctx); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		if !keyExists(t, c, "deploy") {
			t.Fatalf("key deleted after %d of %d releases", i+1, n)
		}
	}
	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("final Unlock: %v", err)
	}
	if keyExists(t, c, "deploy") {
		t.Fatalf("expected key removed after final release")
	}
}

func TestHandlesShareReentrancyCounter(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	m := newManager(t, c, Config{})
	a, _ := m.New("job", "w1", time.Minute)
	b, _ := m.New("job", "w1", time.Minute)
	if ok, _ := a.TryLock(ctx); !ok {
		t.Fatalf("expected a to acquire")
	}
	if ok, _ := b.TryLock(ctx); !ok {
		t.Fatalf("expected b to reenter")
	}
	_ = b.Unlock(ctx)
	if !keyExists(t, c, "job") {
		t.Fatalf("key must survive while a still holds")
	}
	_ = a.Unlock(ctx)
	if keyExists(t, c, "job") {
		t.Fatalf("expected key removed")
	}
}

func TestUnlockByNonHolderIsNoop(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	m := newManager(t, c, Config{})
	owner, _ := m.New("job", "owner", time.Minute)
	intruder, _ := m.New("job", "intruder", time.Minute)
	if ok, _ := owner.TryLock(ctx); !ok {
		t.Fatalf("expected owner to acquire")
	}
	if err := intruder.Unlock(ctx); err != nil {
		t.Fatalf("intruder Unlock: %v", err)
	}
	if !keyExists(t, c, "job") || owner.Held() != 1 {
		t.Fatalf("non-holder release must not affect the lock")
	}
}

func TestMutualExclusionAcrossManagers(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	m1 := newManager(t, c, Config{Host: "a"})
	m2 := newManager(t, c, Config{Host: "b"})
	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, m := range []*Manager{m1, m2} {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			l, _ := m.New("shared", "w", time.Minute)
			ok, err := l.TryLock(ctx)
			if err != nil {
				t.Errorf("TryLock: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}(m)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestTryLockTimeoutWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	m := newManager(t, c, Config{PollInterval: 5 * time.Millisecond})
	holder, _ := m.New("job", "holder", time.Minute)
	waiter, _ := m.New("job", "waiter", time.Minute)
	if ok, _ := holder.TryLock(ctx); !ok {
		t.Fatalf("expected holder to acquire")
	}

	ok, err := waiter.TryLockTimeout(ctx, 30*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected timeout, got %v, %v", ok, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = holder.Unlock(ctx)
	}()
	ok, err = waiter.TryLockTimeout(ctx, 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, got %v, %v", ok, err)
	}
}

func TestTryLockTimeoutValidatesBounds(t *testing.T) {
	m := newManager(t, memory.New(), Config{})
	l, _ := m.New("job", "w", time.Second)
	if _, err := l.TryLockTimeout(context.Background(), 0); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("expected ErrInvalidTimeout, got %v", err)
	}
	if _, err := l.TryLockTimeout(context.Background(), 2*time.Second); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("expected ErrInvalidTimeout, got %v", err)
	}
	if _, err := m.New("job", "w", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
	if _, err := m.New("", "w", time.Second); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestLockBlocksUntilContextDone(t *testing.T) {
	c := memory.New()
	m := newManager(t, c, Config{PollInterval: 5 * time.Millisecond})
	holder, _ := m.New("job", "holder", time.Minute)
	waiter, _ := m.New("job", "waiter", time.Minute)
	_, _ = holder.TryLock(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := waiter.Lock(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExpiredLeaseCanBeTakenAndStaleReleaseIsIgnored(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := memory.NewWithConfig(memory.Config{Clock: clock.Now})
	var results []string
	var mu sync.Mutex
	observe := func(_ string, result string) {
		mu.Lock()
		results = append(results, result)
		mu.Unlock()
	}
	m := newManager(t, c, Config{Clock: clock.Now, OnAcquire: observe})
	first, _ := m.New("job", "first", time.Second)
	second, _ := m.New("job", "second", time.Minute)
	if ok, _ := first.TryLock(ctx); !ok {
		t.Fatalf("expected first to acquire")
	}
	if ok, _ := second.TryLock(ctx); ok {
		t.Fatalf("expected contention before expiry")
	}
	clock.Advance(2 * time.Second)
	if ok, _ := second.TryLock(ctx); !ok {
		t.Fatalf("expected second to acquire after expiry")
	}
	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("stale Unlock must not fail: %v", err)
	}
	current, err := c.Get(ctx, KeyPrefix+"job")
	if err != nil || string(current) != second.Token() {
		t.Fatalf("expected second to keep the lock, got %q %v", current, err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"acquired", "contended", "acquired"}
	if strings.Join(results, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected observations %v", results)
	}
}

func TestReacquireAfterLocalLeaseExpiryHitsBackend(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := memory.NewWithConfig(memory.Config{Clock: clock.Now})
	m := newManager(t, c, Config{Clock: clock.Now})
	l, _ := m.New("job", "w", time.Second)
	if ok, _ := l.TryLock(ctx); !ok {
		t.Fatalf("expected acquire")
	}
	clock.Advance(2 * time.Second)
	if ok, _ := l.TryLock(ctx); !ok {
		t.Fatalf("expected fresh acquire after expiry")
	}
	if l.Held() != 1 {
		t.Fatalf("expected counter reset to 1, got %d", l.Held())
	}
}
