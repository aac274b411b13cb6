package command

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pkt.systems/rshell/schema"
)

func TestRegisterAndLookupAliases(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Spec{Names: []string{" sum ", "add"}, Help: "Add numbers.", Handler: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, name := range []string{"sum", "add"} {
		spec, ok := reg.Lookup(name)
		if !ok || spec.Name() != "sum" {
			t.Fatalf("lookup %q: %v %v", name, spec, ok)
		}
		if spec.Group != DefaultGroup {
			t.Fatalf("expected default group, got %q", spec.Group)
		}
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Fatalf("unexpected lookup hit")
	}
}

func TestRegisterRejectsInvalidSpecs(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want string
	}{
		{"no names", Spec{Handler: noop}, "at least one name"},
		{"empty name", Spec{Names: []string{" "}, Handler: noop}, "must not be empty"},
		{"whitespace", Spec{Names: []string{"a b"}, Handler: noop}, "whitespace"},
		{"builtin", Spec{Names: []string{"doit", "ex"}, Handler: noop}, "built-in"},
		{"self alias", Spec{Names: []string{"x", "x"}, Handler: noop}, "repeatedly defined"},
		{"no handler", Spec{Names: []string{"x"}}, "no handler"},
		{"duplicate short", Spec{Names: []string{"x"}, Handler: noop, Parameters: []Parameter{
			Simple("a", Option{Short: "a", Long: "alpha"}),
			Simple("b", Option{Short: "a", Long: "beta"}),
		}}, `option "a"`},
		{"struct collision", Spec{Names: []string{"x"}, Handler: noop, Parameters: []Parameter{
			Simple("retries", Option{Long: "retries", Kind: KindInt}),
			jobParam(),
		}}, `option "retries"`},
		{"two channels", Spec{Names: []string{"x"}, Handler: noop, Parameters: []Parameter{
			ChannelParam(),
			{name: "other", kind: paramChannel},
		}}, "more than one channel"},
		{"bad default", Spec{Names: []string{"x"}, Handler: noop, Parameters: []Parameter{
			Simple("n", Option{Short: "n", Default: "many", Kind: KindInt}),
		}}, "default"},
		{"dashed option", Spec{Names: []string{"x"}, Handler: noop, Parameters: []Parameter{
			Simple("n", Option{Short: "-n"}),
		}}, "without dashes"},
		{"duplicate param", Spec{Names: []string{"x"}, Handler: noop, Parameters: []Parameter{
			Simple("n", Option{Short: "n"}),
			Simple("n", Option{Short: "m"}),
		}}, "twice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewRegistry().Register(tc.spec)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRegisterRejectsRepeatedAlias(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Spec{Names: []string{"status", "stat"}, Handler: noop})
	err := reg.Register(Spec{Names: []string{"stats", "stat"}, Handler: noop})
	if err == nil || !strings.Contains(err.Error(), "repeatedly defined") {
		t.Fatalf("expected repeated definition error, got %v", err)
	}
	if _, ok := reg.Lookup("stats"); ok {
		t.Fatalf("failed registration must not leave partial entries")
	}
}

func TestSealRejectsRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.Seal()
	if err := reg.Register(Spec{Names: []string{"x"}, Handler: noop}); !errors.Is(err, schema.ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestMetaAndHelp(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		Spec{Names: []string{"sum"}, Group: "Math", Help: "Add two numbers.", Handler: noop, Parameters: sumSpec().Parameters},
		Spec{Names: []string{"submit"}, Group: "Jobs", Help: "Submit a job.", Interruptible: true, MutualExclusion: true,
			Permissions: []schema.Permission{"Admin"}, Handler: noop, Parameters: []Parameter{ChannelParam(), jobParam()}},
	)
	metas := reg.Meta()
	if len(metas) != 2 || metas[0].Name() != "submit" || metas[1].Name() != "sum" {
		t.Fatalf("unexpected meta order %+v", metas)
	}
	if got := metas[0].Permissions; len(got) != 1 || got[0] != "Admin" {
		t.Fatalf("expected permissions to survive, got %v", got)
	}
	if opts := metas[0].Options(); len(opts) != 4 {
		t.Fatalf("expected 4 flattened options, got %d", len(opts))
	}

	var buf bytes.Buffer
	if err := FormatHelp(&buf, metas); err != nil {
		t.Fatalf("format help: %v", err)
	}
	if !strings.Contains(buf.String(), "Math:") || !strings.Contains(buf.String(), "Add two numbers.") {
		t.Fatalf("unexpected help:\n%s", buf.String())
	}
	buf.Reset()
	if err := FormatCommandHelp(&buf, metas[1]); err != nil {
		t.Fatalf("format command help: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "-a, --add1") || !strings.Contains(out, "(required)") || !strings.Contains(out, `(default "1")`) {
		t.Fatalf("unexpected command help:\n%s", out)
	}
}

func TestParseLine(t *testing.T) {
	line, err := ParseLine(`echo -t "hello world" --count=2 -v`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if line.Command != "echo" || len(line.Tokens) != 3 {
		t.Fatalf("unexpected parse %+v", line)
	}
	if line.Tokens[0].Value != "hello world" || line.Tokens[1].Name != "count" || line.Tokens[1].Value != "2" || !line.Tokens[1].Long {
		t.Fatalf("unexpected tokens %+v", line.Tokens)
	}
	if _, err := ParseLine("   "); !errors.Is(err, schema.ErrEmptyLine) {
		t.Fatalf("expected ErrEmptyLine, got %v", err)
	}
	if help, _ := ParseLine("sum --help"); !help.HasHelpFlag() {
		t.Fatalf("expected help flag")
	}
	if _, err := ParseLine(`echo "unterminated`); err == nil {
		t.Fatalf("expected tokenize error")
	}
}
