// Package sqlite implements cache.Cache on a SQLite database file. Every
// process on the host that opens the same file shares sessions and locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pkt.systems/rshell/cache"
)

// Config configures the SQLite backend.
type Config struct {
	Path  string
	Clock cache.Clock
}

// Store is the SQLite backend.
type Store struct {
	db  *sql.DB
	now cache.Clock
}

// Open opens or creates the database at path and runs migrations.
func Open(path string) (*Store, error) {
	return OpenWithConfig(Config{Path: path})
}

// OpenWithConfig opens the database described by cfg.
func OpenWithConfig(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite cache path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	s := &Store{db: db, now: cfg.Clock}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS hkv (
		hash       TEXT NOT NULL,
		field      TEXT NOT NULL,
		value      BLOB NOT NULL,
		expires_at INTEGER,
		PRIMARY KEY (hash, field)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
	CREATE INDEX IF NOT EXISTS idx_hkv_expires ON hkv(expires_at);
	`)
	return err
}

// nowNanos and expiry use unix nanoseconds; NULL expiry means no ttl.
func (s *Store) nowNanos() int64 {
	return s.now().UnixNano()
}

func (s *Store) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixNano(), Valid: true}
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Get implements cache.Cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.nowNanos(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return value, nil
}

// Set implements cache.Cache.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, nonNil(value), s.expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// SetNX implements cache.Cache. An expired row is replaced in the same statement.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		 WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?`,
		key, nonNil(value), s.expiry(ttl), s.nowNanos(),
	))
	if err != nil {
		return false, fmt.Errorf("cache setnx: %w", err)
	}
	return ok, nil
}

// Del implements cache.Cache.
func (s *Store) Del(ctx context.Context, key string) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.nowNanos(),
	))
	if err != nil {
		return false, fmt.Errorf("cache del: %w", err)
	}
	return ok, nil
}

// CompareAndDelete implements cache.Cache.
func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, nonNil(expected), s.nowNanos(),
	))
	if err != nil {
		return false, fmt.Errorf("cache compare-and-delete: %w", err)
	}
	return ok, nil
}

// HGet implements cache.Cache.
func (s *Store) HGet(ctx context.Context, hash, field string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM hkv WHERE hash = ? AND field = ? AND (expires_at IS NULL OR expires_at > ?)`,
		hash, field, s.nowNanos(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache hget: %w", err)
	}
	return value, nil
}

// HSet implements cache.Cache.
func (s *Store) HSet(ctx context.Context, hash, field string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hkv (hash, field, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash, field) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		hash, field, nonNil(value), s.expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("cache hset: %w", err)
	}
	return nil
}

// HSetNX implements cache.Cache.
func (s *Store) HSetNX(ctx context.Context, hash, field string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx,
		`INSERT INTO hkv (hash, field, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash, field) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		 WHERE hkv.expires_at IS NOT NULL AND hkv.expires_at <= ?`,
		hash, field, nonNil(value), s.expiry(ttl), s.nowNanos(),
	))
	if err != nil {
		return false, fmt.Errorf("cache hsetnx: %w", err)
	}
	return ok, nil
}

// HDel implements cache.Cache.
func (s *Store) HDel(ctx context.Context, hash, field string) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx,
		`DELETE FROM hkv WHERE hash = ? AND field = ? AND (expires_at IS NULL OR expires_at > ?)`,
		hash, field, s.nowNanos(),
	))
	if err != nil {
		return false, fmt.Errorf("cache hdel: %w", err)
	}
	return ok, nil
}

// HGetAll implements cache.Cache.
func (s *Store) HGetAll(ctx context.Context, hash string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM hkv WHERE hash = ? AND (expires_at IS NULL OR expires_at > ?)`,
		hash, s.nowNanos(),
	)
	if err != nil {
		return nil, fmt.Errorf("cache hgetall: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var field string
		var value []byte
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("cache hgetall scan: %w", err)
		}
		out[field] = value
	}
	return out, rows.Err()
}

// Purge deletes expired rows from both tables.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	now := s.nowNanos()
	var total int64
	for _, stmt := range []string{
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		`DELETE FROM hkv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, now)
		if err != nil {
			return total, fmt.Errorf("cache purge: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ cache.Cache = (*Store)(nil)
