package acl

import (
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/rshell/command"
	"pkt.systems/rshell/schema"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestACL(t *testing.T, clock *fakeClock, users ...User) *ACL {
	t.Helper()
	a, err := New(Config{Enabled: true, Timeout: time.Minute, Users: users, Clock: clock.Now}, nil)
	if err != nil {
		t.Fatalf("new acl: %v", err)
	}
	return a
}

func TestAuthenticatePlainAndHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	a := newTestACL(t, &fakeClock{now: time.Now()},
		User{Username: "admin", Password: "123456", Permissions: []string{"administrator"}},
		User{Username: "ops", PasswordHash: string(hash), Permissions: []string{"ops", " ops "}},
	)
	name, perms, err := a.Authenticate("admin", "123456", "")
	if err != nil || name != "admin" || len(perms) != 1 || perms[0] != "administrator" {
		t.Fatalf("plain login: %v %v %v", name, perms, err)
	}
	if _, perms, err := a.Authenticate("ops", "s3cret", ""); err != nil || len(perms) != 1 {
		t.Fatalf("hash login: %v %v", perms, err)
	}
	for _, tc := range [][2]string{{"admin", "wrong"}, {"ops", "123456"}, {"ghost", "123456"}, {"bad name!", "x"}} {
		if _, _, err := a.Authenticate(tc[0], tc[1], ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%v: expected invalid credentials, got %v", tc, err)
		}
	}
}

func TestAuthenticateTOTP(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "rshell", AccountName: "admin"})
	if err != nil {
		t.Fatalf("totp generate: %v", err)
	}
	a := newTestACL(t, &fakeClock{now: time.Now()}, User{Username: "admin", Password: "pw", TOTPSecret: key.Secret()})
	if _, _, err := a.Authenticate("admin", "pw", ""); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected totp to be required, got %v", err)
	}
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	if _, _, err := a.Authenticate("admin", "pw", code); err != nil {
		t.Fatalf("expected totp login, got %v", err)
	}
}

func TestLoginDescriptions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestACL(t, clock, User{Username: "admin", Password: "123456", Permissions: []string{"administrator"}})
	sess := schema.Session{ID: "s1"}

	sess, reply := a.Login(sess, schema.PreLoginPayload{Username: "admin", Password: "nope"}, "10.0.0.1")
	if reply.Authenticated || reply.Description != schema.LoginFailure || sess.Authenticated {
		t.Fatalf("expected failure, got %+v %+v", reply, sess)
	}
	sess, reply = a.Login(sess, schema.PreLoginPayload{Username: "admin", Password: "123456"}, "10.0.0.1")
	if !reply.Authenticated || reply.Description != schema.LoginSuccess {
		t.Fatalf("expected success, got %+v", reply)
	}
	if sess.Username != "admin" || sess.Host != "10.0.0.1" || !sess.AuthenticatedAt.Equal(clock.now) {
		t.Fatalf("session not updated: %+v", sess)
	}
	_, reply = a.Login(sess, schema.PreLoginPayload{}, "")
	if !reply.Authenticated || reply.Description != schema.LoginAlreadyAuthenticated {
		t.Fatalf("expected already authenticated, got %+v", reply)
	}

	open, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, reply = open.Login(schema.Session{ID: "s2"}, schema.PreLoginPayload{Username: "x"}, "")
	if reply.Authenticated || reply.Description != schema.LoginNotRequired {
		t.Fatalf("expected not required, got %+v", reply)
	}
}

func TestExpireAfterIdleTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestACL(t, clock, User{Username: "admin", Password: "pw"})
	sess, _ := a.Login(schema.Session{ID: "s1"}, schema.PreLoginPayload{Username: "admin", Password: "pw"}, "")
	clock.now = clock.now.Add(30 * time.Second)
	if _, changed := a.Expire(sess); changed {
		t.Fatalf("session expired too early")
	}
	clock.now = clock.now.Add(time.Minute)
	expired, changed := a.Expire(sess)
	if !changed || expired.Authenticated || expired.Permissions != nil {
		t.Fatalf("expected expiry, got %+v", expired)
	}
}

func TestAuthorize(t *testing.T) {
	a := newTestACL(t, &fakeClock{now: time.Now()},
		User{Username: "admin", Password: "pw", Permissions: []string{"administrator"}},
		User{Username: "guest", Password: "pw"},
	)
	admin := &command.Spec{Names: []string{"mustAcl"}, Permissions: []schema.Permission{"administrator"}}
	open := &command.Spec{Names: []string{"onlyAuth"}}

	if err := a.Authorize(command.Session{}, open); !errors.Is(err, schema.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	guest := command.Session{Username: "guest", Authenticated: true}
	if err := a.Authorize(guest, open); err != nil {
		t.Fatalf("guest should run open command: %v", err)
	}
	if err := a.Authorize(guest, admin); !errors.Is(err, schema.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := a.Authorize(command.Session{Username: "admin", Authenticated: true}, admin); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}

	disabled, _ := New(Config{}, nil)
	if err := disabled.Authorize(command.Session{}, admin); err != nil {
		t.Fatalf("disabled acl must allow everything: %v", err)
	}
}

func TestReplaceKeepsTableOnError(t *testing.T) {
	a := newTestACL(t, &fakeClock{now: time.Now()}, User{Username: "admin", Password: "pw"})
	cases := [][]User{
		{{Username: "a", Password: "x"}, {Username: "a", Password: "y"}},
		{{Username: "nopass"}},
		{{Username: "bad", PasswordHash: "not-bcrypt"}},
		{{Username: "white space", Password: "x"}},
	}
	for _, users := range cases {
		if err := a.Replace(users); err == nil {
			t.Fatalf("expected %+v to be rejected", users)
		}
	}
	if _, _, err := a.Authenticate("admin", "pw", ""); err != nil {
		t.Fatalf("table must survive failed replace: %v", err)
	}
	if err := a.Replace([]User{{Username: "new", Password: "pw"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, _, err := a.Authenticate("admin", "pw", ""); err == nil {
		t.Fatalf("old user must be gone after replace")
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")) != nil {
		t.Fatalf("hash does not verify")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected empty password to fail")
	}
}
