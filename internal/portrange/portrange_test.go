package portrange

import (
	"errors"
	"testing"

	"pkt.systems/rshell/schema"
)

func TestPortShellExample(t *testing.T) {
	r, err := Parse("60100:60200")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first, err := Port("shell-example", r)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	second, _ := Port("shell-example", r)
	if first != second {
		t.Fatalf("expected deterministic port, got %d and %d", first, second)
	}
	if first != 60103 {
		t.Fatalf("expected 60103, got %d", first)
	}
	if normalized, _ := Port("  Shell-Example ", r); normalized != first {
		t.Fatalf("expected case and space insensitivity, got %d", normalized)
	}
	if other, _ := Port("other-app", r); other != 60134 {
		t.Fatalf("expected 60134 for other-app, got %d", other)
	}
}

func TestPortStaysInRange(t *testing.T) {
	r := Range{Begin: 2000, End: 2013}
	for _, name := range []string{"a", "b", "billing", "orders", "x-y-z"} {
		p, err := Port(name, r)
		if err != nil {
			t.Fatalf("port %q: %v", name, err)
		}
		if p < r.Begin || p >= r.End {
			t.Fatalf("port %d of %q outside %s", p, name, r)
		}
	}
}

func TestParseRejectsBadRanges(t *testing.T) {
	for _, s := range []string{"", "60100", "a:b", "1024:2000", "3000:2000", "60000:65535", "5000:5000"} {
		if _, err := Parse(s); !errors.Is(err, schema.ErrInvalidPortRange) {
			t.Fatalf("%q: expected ErrInvalidPortRange, got %v", s, err)
		}
	}
	if _, err := Port("", Default()); err == nil {
		t.Fatalf("expected empty app name to fail")
	}
}
