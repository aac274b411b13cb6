package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"pkt.systems/rshell"
	"pkt.systems/rshell/cache/memory"
	"pkt.systems/rshell/client"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/internal/appconfig"
	"pkt.systems/rshell/internal/democonsole"
)

func startDemo(t *testing.T, cfg appconfig.Config) string {
	t.Helper()
	reg := command.NewRegistry()
	if err := democonsole.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	srv, err := rshell.New(rshell.ServerConfig{Config: cfg, Registry: reg}, rshell.WithCache(store), rshell.WithListenAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv.Addr()
}

func runConsole(t *testing.T, addr, input string) (string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, client.Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	var out, errOut bytes.Buffer
	con := newConsole(c, strings.NewReader(input), &out, &errOut)
	if err := con.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String(), errOut.String()
}

func TestConsoleSession(t *testing.T) {
	addr := startDemo(t, appconfig.DefaultConfig())
	input := strings.Join([]string{
		"sum -a 1 -b 2",
		"help",
		"sum --help",
		"nope",
		"stacktrace",
		"login guest",
		"secret",
		"",
		"history",
		"exit",
		"sum -a 100",
	}, "\n") + "\n"
	out, errOut := runConsole(t, addr, input)
	for _, want := range []string{
		"3\n",
		"Example commands:",
		"Built-in:",
		"-a, --add1",
		"code: not_found",
		"No authentication required.",
		"   1  sum -a 1 -b 2",
		"   4  nope",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "101") {
		t.Fatalf("lines after exit must not run:\n%s", out)
	}
	if strings.Contains(out, "  history") {
		t.Fatalf("history must not record itself:\n%s", out)
	}
	if !strings.Contains(errOut, "command not found") {
		t.Fatalf("expected not found error, got %q", errOut)
	}
}

func TestConsoleLoginWithACL(t *testing.T) {
	cfg := appconfig.DefaultConfig()
	cfg.ACL.Enabled = true
	cfg.ACL.Users = []appconfig.ACLUser{{Username: "root", Password: "pw", Permissions: []string{"administrator"}}}
	addr := startDemo(t, cfg)
	out, errOut := runConsole(t, addr, "mustAcl\nlogin root\npw\n\nmustAcl\n")
	if !strings.Contains(errOut, "authentication required") {
		t.Fatalf("expected authentication error, got %q", errOut)
	}
	if !strings.Contains(out, "Authentication success.") || !strings.Contains(out, `mustAcl run by "root"`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestConsoleRunLinesFails(t *testing.T) {
	addr := startDemo(t, appconfig.DefaultConfig())
	ctx := context.Background()
	c, err := client.Dial(ctx, client.Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	var out, errOut bytes.Buffer
	con := newConsole(c, strings.NewReader(""), &out, &errOut)
	if err := con.runLines(ctx, []string{"echo -t ok", "error", "echo -t never"}); err == nil {
		t.Fatalf("expected the failing line to stop the run")
	}
	if !strings.Contains(out.String(), "ok\n") || strings.Contains(out.String(), "never") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
