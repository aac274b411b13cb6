package rshell

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/rshell/cache"
	"pkt.systems/rshell/cache/memory"
	"pkt.systems/rshell/cache/redis"
	"pkt.systems/rshell/cache/sqlite"
)

// Cache URL schemes accepted by OpenCache.
const (
	SchemeMemory       = "memory"
	SchemeSQLite       = "sqlite"
	SchemeRedis        = "redis"
	SchemeRedisTLS     = "rediss"
	SchemeRedisCluster = "redis+cluster"
)

// OpenCache opens the backend named by rawURL. Redis backends are pinged
// before they are returned.
func OpenCache(ctx context.Context, rawURL string) (cache.Cache, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		rawURL = SchemeMemory + "://"
	}
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("cache url %q has no scheme", rawURL)
	}
	log := pslog.Ctx(ctx).With("cache", scheme)
	switch strings.ToLower(scheme) {
	case SchemeMemory:
		log.Debug("cache opened")
		return memory.New(), nil
	case SchemeSQLite:
		path, err := sqlitePath(rest)
		if err != nil {
			return nil, err
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		log.Debug("cache opened", "path", path)
		return store, nil
	case SchemeRedis, SchemeRedisTLS, SchemeRedisCluster:
		cfg, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, err
		}
		store, err := redis.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Debug("cache opened", "addrs", cfg.Addrs, "prefix", cfg.Prefix)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", scheme)
	}
}

// sqlitePath accepts sqlite:///abs/path.db and sqlite://relative.db.
func sqlitePath(rest string) (string, error) {
	path, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("sqlite cache path: %w", err)
	}
	if path, _, _ = strings.Cut(path, "?"); path == "" {
		return "", errors.New("sqlite cache url requires a path")
	}
	return filepath.Clean(path), nil
}
