// Package redis implements cache.Cache on a Redis server or cluster. Hash
// ttls apply to the whole namespace key because Redis does not expire
// individual fields; every write refreshes the namespace deadline.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"pkt.systems/rshell/cache"
)

// compareAndDelete deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config describes how to reach Redis. More than one address selects the
// cluster client.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store is the Redis backend.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// ParseURL converts redis://[user:pass@]host:port[/db][?prefix=p] or
// redis+cluster://host1:port,host2:port[?prefix=p] into a Config.
func ParseURL(raw string) (Config, error) {
	if rest, ok := strings.CutPrefix(raw, "redis+cluster://"); ok {
		return parseClusterURL(rest)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse redis url: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return Config{}, fmt.Errorf("unsupported redis scheme %q", u.Scheme)
	}
	query := u.Query()
	cfg := Config{Prefix: query.Get("prefix")}
	query.Del("prefix")
	u.RawQuery = query.Encode()
	opts, err := goredis.ParseURL(u.String())
	if err != nil {
		return Config{}, fmt.Errorf("parse redis url: %w", err)
	}
	cfg.Addrs = []string{opts.Addr}
	cfg.Username = opts.Username
	cfg.Password = opts.Password
	cfg.DB = opts.DB
	return cfg, nil
}

// parseClusterURL handles the host list by hand since net/url accepts a
// single authority only.
func parseClusterURL(rest string) (Config, error) {
	var cfg Config
	if hosts, rawQuery, ok := strings.Cut(rest, "?"); ok {
		query, err := url.ParseQuery(rawQuery)
		if err != nil {
			return Config{}, fmt.Errorf("parse redis cluster query: %w", err)
		}
		cfg.Prefix = query.Get("prefix")
		rest = hosts
	}
	rest = strings.TrimSuffix(rest, "/")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		user, pass, _ := strings.Cut(rest[:at], ":")
		cfg.Username = user
		cfg.Password = pass
		rest = rest[at+1:]
	}
	for _, host := range strings.Split(rest, ",") {
		if host = strings.TrimSpace(host); host != "" {
			cfg.Addrs = append(cfg.Addrs, host)
		}
	}
	if len(cfg.Addrs) == 0 {
		return Config{}, errors.New("redis cluster url requires at least one host")
	}
	return cfg, nil
}

// New connects to Redis described by cfg.
func New(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis address is required")
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client. Close closes the client.
func NewFromClient(client goredis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func notFound(err error) error {
	if errors.Is(err, goredis.Nil) {
		return cache.ErrNotFound
	}
	return err
}

// Get implements cache.Cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		return nil, notFound(err)
	}
	return value, nil
}

// Set implements cache.Cache.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttlOrZero(ttl)).Err()
}

// SetNX implements cache.Cache.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, ttlOrZero(ttl)).Result()
}

// Del implements cache.Cache.
func (s *Store) Del(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	return n > 0, err
}

// CompareAndDelete implements cache.Cache with a server-side script.
func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{s.key(key)}, expected).Int64()
	if err != nil {
		return false, notFound(err)
	}
	return n > 0, nil
}

// HGet implements cache.Cache.
func (s *Store) HGet(ctx context.Context, hash, field string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.key(hash), field).Bytes()
	if err != nil {
		return nil, notFound(err)
	}
	return value, nil
}

// HSet implements cache.Cache.
func (s *Store) HSet(ctx context.Context, hash, field string, value []byte, ttl time.Duration) error {
	key := s.key(hash)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// HSetNX implements cache.Cache.
func (s *Store) HSetNX(ctx context.Context, hash, field string, value []byte, ttl time.Duration) (bool, error) {
	key := s.key(hash)
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil || !ok {
		return ok, err
	}
	if ttl > 0 {
		if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// HDel implements cache.Cache.
func (s *Store) HDel(ctx context.Context, hash, field string) (bool, error) {
	n, err := s.client.HDel(ctx, s.key(hash), field).Result()
	return n > 0, err
}

// HGetAll implements cache.Cache.
func (s *Store) HGetAll(ctx context.Context, hash string) (map[string][]byte, error) {
	raw, err := s.client.HGetAll(ctx, s.key(hash)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for field, value := range raw {
		out[field] = []byte(value)
	}
	return out, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func ttlOrZero(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

var _ cache.Cache = (*Store)(nil)
