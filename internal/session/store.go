// Package session persists console sessions in one cache hash namespace.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/rshell/cache"
	"pkt.systems/rshell/schema"
)

// DefaultNamespace is the hash name holding all session records.
const DefaultNamespace = "rshell.sessions"

// ErrNotFound indicates an unknown or evicted session id.
var ErrNotFound = errors.New("session not found")

// Config tunes a Store.
type Config struct {
	Namespace string
	// TTL bounds how long a session survives without activity. Zero keeps
	// records until deleted.
	TTL   time.Duration
	Clock cache.Clock
}

// Store reads and writes schema.Session records.
type Store struct {
	cache     cache.Cache
	namespace string
	ttl       time.Duration
	now       cache.Clock
	log       pslog.Logger
}

// NewStore builds a store over c.
func NewStore(c cache.Cache, cfg Config, logger pslog.Logger) (*Store, error) {
	if c == nil {
		return nil, errors.New("session store requires a cache")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Store{
		cache:     c,
		namespace: cfg.Namespace,
		ttl:       cfg.TTL,
		now:       cfg.Clock,
		log:       logger.With("session_namespace", cfg.Namespace),
	}, nil
}

// NewID returns an opaque session id: a uuid without dashes.
func NewID() schema.SessionID {
	return schema.SessionID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Create stores a fresh session for host.
func (s *Store) Create(ctx context.Context, host string) (schema.Session, error) {
	now := s.now().UTC()
	sess := schema.Session{
		ID:             NewID(),
		Host:           host,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return schema.Session{}, err
	}
	ok, err := s.cache.HSetNX(ctx, s.namespace, string(sess.ID), data, s.ttl)
	if err != nil {
		return schema.Session{}, fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return schema.Session{}, fmt.Errorf("create session: id collision on %s", sess.ID)
	}
	s.log.Debug("session created", "session", sess.ID, "host", host)
	return sess, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id schema.SessionID) (schema.Session, error) {
	if id == "" {
		return schema.Session{}, ErrNotFound
	}
	data, err := s.cache.HGet(ctx, s.namespace, string(id))
	if errors.Is(err, cache.ErrNotFound) {
		return schema.Session{}, ErrNotFound
	}
	if err != nil {
		return schema.Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess schema.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return schema.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}

// Put replaces the stored record.
func (s *Store) Put(ctx context.Context, sess schema.Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.cache.HSet(ctx, s.namespace, string(sess.ID), data, s.ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Touch refreshes the activity timestamp and returns the updated record.
func (s *Store) Touch(ctx context.Context, sess schema.Session) (schema.Session, error) {
	sess.LastActivityAt = s.now().UTC()
	return sess, s.Put(ctx, sess)
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id schema.SessionID) error {
	if _, err := s.cache.HDel(ctx, s.namespace, string(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List enumerates every session in the namespace, newest activity first.
// Undecodable records are skipped and logged.
func (s *Store) List(ctx context.Context) ([]schema.Session, error) {
	raw, err := s.cache.HGetAll(ctx, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]schema.Session, 0, len(raw))
	for id, data := range raw {
		var sess schema.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.log.Warn("session decode failed", "session", id, "err", err)
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}
