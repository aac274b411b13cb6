// Package acl authenticates console sessions against a static user table
// and authorizes commands by permission.
package acl

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/pslog"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/schema"
)

// DefaultTimeout is how long an authenticated session may stay idle.
const DefaultTimeout = 30 * time.Minute

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTP indicates a missing or wrong second factor.
	ErrInvalidTOTP = errors.New("invalid totp")
)

// User is one configured account. Exactly one of Password and PasswordHash
// is expected; PasswordHash is a bcrypt hash.
type User struct {
	Username     string
	Password     string
	PasswordHash string
	TOTPSecret   string
	Permissions  []string
}

type account struct {
	name        schema.Username
	password    []byte
	hash        []byte
	totpSecret  string
	permissions []schema.Permission
}

// Config configures an ACL.
type Config struct {
	Enabled bool
	// Timeout expires authentication after this much idle time. Zero means
	// DefaultTimeout; negative disables expiry.
	Timeout time.Duration
	Users   []User
	Clock   func() time.Time
}

// ACL holds the user table. It is safe for concurrent use and the table can
// be swapped while serving.
type ACL struct {
	enabled bool
	timeout time.Duration
	now     func() time.Time
	log     pslog.Logger

	mu    sync.RWMutex
	users map[schema.Username]account
}

// dummyHash keeps unknown-user checks roughly as slow as known ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("rshell-unknown-user"), bcrypt.MinCost)

// New validates cfg and builds an ACL.
func New(cfg Config, logger pslog.Logger) (*ACL, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	a := &ACL{enabled: cfg.Enabled, timeout: timeout, now: now, log: logger}
	if err := a.Replace(cfg.Users); err != nil {
		return nil, err
	}
	return a, nil
}

// Enabled reports whether login is required.
func (a *ACL) Enabled() bool { return a.enabled }

// Timeout returns the idle expiry, or a negative value when disabled.
func (a *ACL) Timeout() time.Duration { return a.timeout }

// Replace swaps the user table atomically. The table is left untouched when
// any user is invalid.
func (a *ACL) Replace(users []User) error {
	table, err := buildTable(users)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.users = table
	a.mu.Unlock()
	a.log.Debug("acl users loaded", "count", len(table), "enabled", a.enabled)
	return nil
}

func buildTable(users []User) (map[schema.Username]account, error) {
	table := make(map[schema.Username]account, len(users))
	for i, u := range users {
		name, err := schema.NormalizeUsername(u.Username)
		if err != nil {
			return nil, fmt.Errorf("acl user %d: %w", i, err)
		}
		if _, dup := table[name]; dup {
			return nil, fmt.Errorf("acl user %q is defined twice", name)
		}
		acct := account{
			name:        name,
			totpSecret:  strings.TrimSpace(u.TOTPSecret),
			permissions: schema.NormalizePermissions(u.Permissions),
		}
		switch {
		case u.PasswordHash != "":
			if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
				return nil, fmt.Errorf("acl user %q: password_hash is not a bcrypt hash: %w", name, err)
			}
			acct.hash = []byte(u.PasswordHash)
		case u.Password != "":
			acct.password = []byte(u.Password)
		default:
			return nil, fmt.Errorf("acl user %q has neither password nor password_hash", name)
		}
		table[name] = acct
	}
	return table, nil
}

// Users returns the configured usernames.
func (a *ACL) Users() []schema.Username {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]schema.Username, 0, len(a.users))
	for name := range a.users {
		out = append(out, name)
	}
	return out
}

// Authenticate checks credentials and returns the user's permissions.
func (a *ACL) Authenticate(username, password, code string) (schema.Username, []schema.Permission, error) {
	name, err := schema.NormalizeUsername(username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	a.mu.RLock()
	acct, ok := a.users[name]
	a.mu.RUnlock()
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if acct.hash != nil {
		if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
			return "", nil, ErrInvalidCredentials
		}
	} else if subtle.ConstantTimeCompare(acct.password, []byte(password)) != 1 {
		return "", nil, ErrInvalidCredentials
	}
	if acct.totpSecret != "" && !totp.Validate(strings.TrimSpace(code), acct.totpSecret) {
		return "", nil, ErrInvalidTOTP
	}
	return acct.name, append([]schema.Permission(nil), acct.permissions...), nil
}

// Login applies a PreLogin to sess and returns the updated session with the
// reply payload. The session is unchanged unless authentication succeeds.
func (a *ACL) Login(sess schema.Session, req schema.PreLoginPayload, host string) (schema.Session, schema.LoginPayload) {
	if !a.enabled {
		return sess, schema.LoginPayload{Authenticated: false, Description: schema.LoginNotRequired}
	}
	if sess.Authenticated {
		return sess, schema.LoginPayload{Authenticated: true, Description: schema.LoginAlreadyAuthenticated}
	}
	name, perms, err := a.Authenticate(req.Username, req.Password, req.TOTP)
	if err != nil {
		a.log.Warn("acl login failed", "session", sess.ID, "user", req.Username, "host", host, "err", err)
		return sess, schema.LoginPayload{Authenticated: false, Description: schema.LoginFailure}
	}
	now := a.now()
	sess.Username = name
	sess.Authenticated = true
	sess.Permissions = perms
	sess.AuthenticatedAt = now
	sess.LastActivityAt = now
	if host != "" {
		sess.Host = host
	}
	a.log.Info("acl login", "session", sess.ID, "user", name, "host", host)
	return sess, schema.LoginPayload{Authenticated: true, Description: schema.LoginSuccess}
}

// Expire drops authentication from a session idle longer than the timeout.
// It reports whether sess changed.
func (a *ACL) Expire(sess schema.Session) (schema.Session, bool) {
	if !sess.Authenticated || a.timeout < 0 {
		return sess, false
	}
	if a.now().Sub(sess.LastActivityAt) <= a.timeout {
		return sess, false
	}
	a.log.Debug("acl session expired", "session", sess.ID, "user", sess.Username)
	sess.Authenticated = false
	sess.Permissions = nil
	sess.AuthenticatedAt = time.Time{}
	return sess, true
}

// Authorize requires a login when the ACL is enabled and, for commands that
// declare permissions, at least one matching grant. Grants come from the
// current user table so reloads apply without a new login.
func (a *ACL) Authorize(sess command.Session, spec *command.Spec) error {
	if !a.enabled {
		return nil
	}
	if !sess.Authenticated {
		return schema.ErrUnauthenticated
	}
	a.mu.RLock()
	acct, ok := a.users[sess.Username]
	a.mu.RUnlock()
	if !ok {
		return schema.ErrUnauthenticated
	}
	if !(schema.Session{Permissions: acct.permissions}).HasPermission(spec.Permissions) {
		return fmt.Errorf("%w: %s requires one of %v", schema.ErrUnauthorized, spec.Name(), spec.Permissions)
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
