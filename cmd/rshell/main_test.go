package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"pkt.systems/rshell/schema"
)

func TestArgv0Alias(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "rsh", want: "connect"},
		{base: "rshell-connect", want: "connect"},
		{base: "rshell", want: ""},
	}
	for _, tc := range tests {
		if got := argv0Alias(tc.base); got != tc.want {
			t.Fatalf("argv0Alias(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestApplyArgv0Alias(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "empty", args: nil, want: nil},
		{name: "no-alias", args: []string{"rshell", "serve"}, want: []string{"rshell", "serve"}},
		{name: "rsh", args: []string{"/usr/bin/rsh", "--app", "db"}, want: []string{"/usr/bin/rsh", "connect", "--app", "db"}},
	}
	for _, tc := range tests {
		got := applyArgv0Alias(tc.args)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: applyArgv0Alias length = %d, want %d", tc.name, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: applyArgv0Alias[%d] = %q, want %q", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPortCmd(t *testing.T) {
	out, err := runRoot(t, "", "port")
	if err != nil || strings.TrimSpace(out) != "60103" {
		t.Fatalf("expected 60103, got %q %v", out, err)
	}
	if _, err := runRoot(t, "", "port", "x", "--range", "10:5"); err == nil {
		t.Fatalf("expected invalid range error")
	}
}

func TestACLHashPasswordFromStdin(t *testing.T) {
	out, err := runRoot(t, "hunter2\n", "acl", "hash-password", "--password-from-stdin")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "$2") {
		t.Fatalf("expected a bcrypt hash, got %q", out)
	}
	if _, err := runRoot(t, "a\nb\n", "acl", "hash-password"); err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestACLTOTP(t *testing.T) {
	out, err := runRoot(t, "", "acl", "totp", "Alice", "--no-qr")
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	if !strings.Contains(out, "username: alice") || !strings.Contains(out, "otpauth://totp/rshell:alice") {
		t.Fatalf("unexpected enrolment output %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	if _, err := runRoot(t, "", "config", "init", "-c", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := runRoot(t, "", "config", "init", "-c", path); err == nil {
		t.Fatalf("expected init without --force to refuse overwrite")
	}
	out, err := runRoot(t, "", "config", "show", "-c", path)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "listen: 127.0.0.1:60103") || !strings.Contains(out, "cache: memory://") {
		t.Fatalf("unexpected show output %q", out)
	}
}

func TestPrintSessions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var out bytes.Buffer
	if err := printSessions(&out, nil, now); err != nil || out.String() != "no sessions\n" {
		t.Fatalf("unexpected empty output %q %v", out.String(), err)
	}
	out.Reset()
	sessions := []schema.Session{{
		ID:             "abc",
		Username:       "alice",
		Authenticated:  true,
		Host:           "db1",
		CreatedAt:      now.Add(-2 * time.Hour),
		LastActivityAt: now.Add(-time.Minute),
	}}
	if err := printSessions(&out, sessions, now); err != nil {
		t.Fatalf("print: %v", err)
	}
	for _, want := range []string{"SESSION", "abc", "alice", "true", "db1", "2 hours ago", "1 minute ago", "1 session\n"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in\n%s", want, out.String())
		}
	}
}
