package schema

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Username
		valid bool
	}{
		{"simple", "alice", "alice", true},
		{"with-dots", "alice.dev", "alice.dev", true},
		{"with-email", "ops@example.com", "ops@example.com", true},
		{"trimmed", "  bob ", "bob", true},
		{"empty", "", "", false},
		{"space", "alice dev", "", false},
		{"colon", "alice:pw", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeUsername(tc.input)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
		if got != tc.want {
			t.Fatalf("case %q: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestNormalizePermissions(t *testing.T) {
	got := NormalizePermissions([]string{" admin", "", "ops", "admin"})
	if len(got) != 2 || got[0] != "admin" || got[1] != "ops" {
		t.Fatalf("unexpected permissions: %v", got)
	}
	if NormalizePermissions(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestSessionHasPermission(t *testing.T) {
	sess := Session{Permissions: []Permission{"ops"}}
	if !sess.HasPermission(nil) {
		t.Fatalf("empty requirement must pass")
	}
	if !sess.HasPermission([]Permission{"admin", "ops"}) {
		t.Fatalf("expected intersection to pass")
	}
	if sess.HasPermission([]Permission{"admin"}) {
		t.Fatalf("expected missing permission to fail")
	}
}

type codedErr struct{}

func (codedErr) Error() string        { return "coded" }
func (codedErr) ErrorCode() ErrorCode { return CodeBinding }

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrUnauthenticated), CodeUnauthenticated},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrLockTimeout, CodeLockTimeout},
		{ErrChannelBusy, CodeBusy},
		{fmt.Errorf("x: %w", codedErr{}), CodeBinding},
		{errors.New("boom"), CodeExecution},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
