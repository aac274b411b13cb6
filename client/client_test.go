package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"pkt.systems/rshell/cache/memory"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/consoleserver"
	"pkt.systems/rshell/core"
	"pkt.systems/rshell/internal/acl"
	"pkt.systems/rshell/internal/portrange"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/internal/wire"
	"pkt.systems/rshell/schema"
)

func startConsole(t *testing.T, enableACL bool) string {
	t.Helper()
	reg := command.NewRegistry()
	reg.MustRegister(
		command.Spec{
			Names: []string{"echo"},
			Parameters: []command.Parameter{
				command.Simple("text", command.Option{Short: "t", Long: "text", Required: true}),
			},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				return call.Args.String("text"), nil
			},
		},
		command.Spec{
			Names:         []string{"count"},
			Interruptible: true,
			Parameters:    []command.Parameter{command.ChannelParam()},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				ch := call.Channel
				go func() {
					for i := 1; ; i++ {
						if stop, _ := ch.Interrupted(); stop {
							_ = ch.CompleteWith("stopped")
							return
						}
						_ = ch.Progress("count", 1000, i)
						time.Sleep(5 * time.Millisecond)
					}
				}()
				return nil, nil
			},
		},
	)
	reg.Seal()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	sessions, err := session.NewStore(store, session.Config{}, nil)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	cfg := acl.Config{Enabled: enableACL}
	if enableACL {
		cfg.Users = []acl.User{{Username: "admin", Password: "123456"}}
	}
	access, err := acl.New(cfg, nil)
	if err != nil {
		t.Fatalf("acl: %v", err)
	}
	d, err := core.NewDispatcher(core.DispatcherConfig{Registry: reg, Authorizer: access})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	srv, err := consoleserver.New(consoleserver.Config{AppName: "test", ServerVersion: "v1.0.0", Dispatcher: d, Sessions: sessions, ACL: access})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(context.Background(), ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return ln.Addr().String()
}

func TestAddressDerivesPortFromAppName(t *testing.T) {
	addr, err := Config{AppName: "shell-example"}.Address()
	if err != nil || addr != "127.0.0.1:60103" {
		t.Fatalf("expected 127.0.0.1:60103, got %q %v", addr, err)
	}
	addr, err = Config{AppName: "shell-example", Host: "db1", Range: portrange.Range{Begin: 60100, End: 60200}}.Address()
	if err != nil || addr != "db1:60103" {
		t.Fatalf("expected db1:60103, got %q %v", addr, err)
	}
	if addr, _ := (Config{Addr: "10.0.0.1:7000", AppName: "ignored"}).Address(); addr != "10.0.0.1:7000" {
		t.Fatalf("explicit address must win, got %q", addr)
	}
	if _, err := (Config{}).Address(); err == nil {
		t.Fatalf("expected error without app name or address")
	}
}

func TestDialExecAndResume(t *testing.T) {
	addr := startConsole(t, false)
	ctx := context.Background()
	c, err := Dial(ctx, Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	meta := c.Meta()
	if meta.AppName != "test" || meta.ServerVersion != "v1.0.0" || len(meta.Commands) != 2 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if c.SessionID() == "" {
		t.Fatalf("expected a session id")
	}
	var streamed []string
	frame, err := c.Exec(ctx, `echo -t "hello world"`, Handler{Stdout: func(s string) { streamed = append(streamed, s) }})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if frame.Command != "echo" || strings.TrimSpace(frame.Stdout) != "hello world" || len(streamed) != 1 || frame.Err() != nil {
		t.Fatalf("unexpected frame %+v", frame)
	}
	frame, err = c.Exec(ctx, "echo", Handler{})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	var remote *RemoteError
	if !errors.As(frame.Err(), &remote) || remote.Code != schema.CodeBinding {
		t.Fatalf("expected binding error, got %v", frame.Err())
	}

	resumed, err := Dial(ctx, Config{Addr: addr, SessionID: c.SessionID()})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer resumed.Close()
	if resumed.SessionID() != c.SessionID() {
		t.Fatalf("expected resumed session %s, got %s", c.SessionID(), resumed.SessionID())
	}
}

func TestLogin(t *testing.T) {
	addr := startConsole(t, true)
	ctx := context.Background()
	c, err := Dial(ctx, Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if !c.Meta().ACLEnabled {
		t.Fatalf("expected acl flag in meta")
	}
	frame, err := c.Exec(ctx, "echo -t hi", Handler{})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if schema.CodeOf(frame.Err()) != schema.CodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", frame.Err())
	}
	reply, err := c.Login(ctx, "admin", "123456", "")
	if err != nil || !reply.Authenticated {
		t.Fatalf("login: %+v %v", reply, err)
	}
	frame, err = c.Exec(ctx, "echo -t hi", Handler{})
	if err != nil || strings.TrimSpace(frame.Stdout) != "hi" {
		t.Fatalf("exec after login: %+v %v", frame, err)
	}
}

func TestInterruptDuringExec(t *testing.T) {
	addr := startConsole(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	asked := ""
	interrupted := false
	frame, err := c.Exec(ctx, "count", Handler{
		Progress: func(p schema.ProgressPayload) {
			if p.Progress >= 3 && !interrupted {
				interrupted = true
				if err := c.Interrupt(); err != nil {
					t.Errorf("interrupt: %v", err)
				}
			}
		},
		AskInterrupt: func(subject string) {
			asked = subject
			_ = c.AckInterrupt(true)
		},
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if asked != schema.InterruptSubject {
		t.Fatalf("expected interrupt question, got %q", asked)
	}
	if frame.Progress == nil || frame.Progress.Title != "stopped" || frame.Progress.Progress != frame.Progress.Whole {
		t.Fatalf("expected final full progress, got %+v", frame.Progress)
	}
}

func TestExecAfterCloseFails(t *testing.T) {
	addr := startConsole(t, false)
	c, err := Dial(context.Background(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Close()
	if _, err := c.Exec(context.Background(), "echo -t x", Handler{}); err == nil {
		t.Fatalf("expected exec on closed client to fail")
	}
}

func TestCloseStopsReaderWithUnreadSignals(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close() })
	c := New(clientSide, 0, nil)
	srv := wire.NewConn(serverSide)
	go func() {
		for range 100 {
			if err := srv.Send(schema.KindStdout, "s1", schema.StdoutPayload{Text: "x\n"}); err != nil {
				return
			}
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.signals) < cap(c.signals) {
		if time.Now().After(deadline) {
			t.Fatalf("reader did not fill the buffer")
		}
		time.Sleep(time.Millisecond)
	}
	_ = c.Close()
	for {
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if errors.Is(err, ErrClosed) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("reader still blocked after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
