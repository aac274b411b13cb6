package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/rshell/client"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/internal/appconfig"
	"pkt.systems/rshell/internal/portrange"
	"pkt.systems/rshell/schema"
)

func newConnectCmd() *cobra.Command {
	var cfg client.Config
	var rangeSpec string
	var sessionID string
	var username string
	var lines []string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive console",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := portrange.Parse(rangeSpec)
			if err != nil {
				return err
			}
			cfg.Range = r
			cfg.SessionID = schema.SessionID(sessionID)
			cfg.Logger = pslog.Ctx(cmd.Context())
			c, err := client.Dial(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			con := newConsole(c, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			defer signal.Stop(sig)
			go func() {
				for range sig {
					con.interrupt()
				}
			}()

			ctx := cmd.Context()
			if username != "" {
				if err := con.login(ctx, []string{command.BuiltinLogin, username}); err != nil {
					return err
				}
			}
			if len(lines) > 0 {
				return con.runLines(ctx, lines)
			}
			con.banner()
			return con.run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", "", "console address host:port (default derives the port from --app)")
	cmd.Flags().StringVar(&cfg.Host, "host", "127.0.0.1", "console host when deriving the port")
	cmd.Flags().StringVar(&cfg.AppName, "app", appconfig.DefaultAppName, "application name the port is derived from")
	cmd.Flags().StringVar(&rangeSpec, "range", portrange.Default().String(), "port range as begin:end")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume this session id")
	cmd.Flags().StringVarP(&username, "user", "u", "", "log in as this user before the first command")
	cmd.Flags().StringArrayVarP(&lines, "exec", "e", nil, "run this line and exit (repeatable)")
	cmd.Flags().DurationVar(&cfg.DialTimeout, "dial-timeout", client.DefaultDialTimeout, "connection timeout")
	return cmd
}

// console is the line-oriented client UI around a client.Client. The
// built-in commands run locally; everything else is sent to the server.
type console struct {
	c      *client.Client
	src    io.Reader
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	mu       sync.Mutex
	history  *historyBuffer
	lastErr  error
	running  atomic.Bool
	progress bool
}

var errExit = errors.New("exit")

func newConsole(c *client.Client, in io.Reader, out, errOut io.Writer) *console {
	return &console{c: c, src: in, in: bufio.NewReader(in), out: out, errOut: errOut, history: newHistory(0)}
}

func (con *console) prompt() string {
	name := con.c.Meta().AppName
	if name == "" {
		name = "rshell"
	}
	return name + "> "
}

func (con *console) banner() {
	meta := con.c.Meta()
	_, _ = fmt.Fprintf(con.out, "Connected to %s %s, session %s.\n", meta.AppName, meta.ServerVersion, con.c.SessionID())
	if meta.ACLEnabled {
		_, _ = fmt.Fprintln(con.out, "Authentication is required, use login.")
	}
	_, _ = fmt.Fprintln(con.out, "Type help for a list of commands.")
}

// run reads lines until exit or end of input.
func (con *console) run(ctx context.Context) error {
	for {
		_, _ = fmt.Fprint(con.out, con.prompt())
		line, err := con.in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			if errors.Is(err, io.EOF) {
				_, _ = fmt.Fprintln(con.out)
				return nil
			}
			return err
		}
		if err := con.handle(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runLines executes lines in order and fails on the first failing one.
func (con *console) runLines(ctx context.Context, lines []string) error {
	for _, line := range lines {
		con.setLastErr(nil)
		if err := con.handle(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			return err
		}
		if err := con.lastError(); err != nil {
			return err
		}
	}
	return nil
}

// handle runs one input line. Only transport failures and exit are
// returned; command failures are printed and kept for stacktrace.
func (con *console) handle(ctx context.Context, raw string) error {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	name := fields[0]
	if len(fields) > 1 && fields[len(fields)-1] == "--help" && !command.IsBuiltin(name) {
		fields = []string{command.BuiltinHelp, name}
		name = command.BuiltinHelp
	}
	builtin, isBuiltin := command.Builtin(name)
	if !isBuiltin || builtin != command.BuiltinHistory {
		con.mu.Lock()
		con.history.Append(line)
		con.mu.Unlock()
	}
	if !isBuiltin {
		return con.exec(ctx, line)
	}
	switch builtin {
	case command.BuiltinExit, command.BuiltinQuit:
		return errExit
	case command.BuiltinHelp:
		return con.help(fields[1:])
	case command.BuiltinHistory:
		con.printHistory()
	case command.BuiltinClear:
		_, _ = fmt.Fprint(con.out, "\033[H\033[2J")
	case command.BuiltinStacktrace:
		con.stacktrace()
	case command.BuiltinLogin:
		return con.login(ctx, fields)
	}
	return nil
}

func (con *console) exec(ctx context.Context, line string) error {
	con.running.Store(true)
	defer con.running.Store(false)
	started := time.Now()
	frame, err := con.c.Exec(ctx, line, client.Handler{
		Stdout: func(text string) {
			con.endProgress()
			_, _ = fmt.Fprint(con.out, text)
		},
		Stderr: func(p schema.StderrPayload) {
			con.endProgress()
			_, _ = fmt.Fprintf(con.errOut, "error: %s\n", p.Message)
		},
		Progress: con.renderProgress,
	})
	con.endProgress()
	if err != nil {
		con.setLastErr(err)
		var remote *client.RemoteError
		if errors.As(err, &remote) {
			_, _ = fmt.Fprintf(con.errOut, "error: %s\n", remote.Message)
			return nil
		}
		return err
	}
	con.setLastErr(frame.Err())
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		_, _ = fmt.Fprintf(con.errOut, "(%s finished, started %s)\n", frame.Command, humanize.RelTime(started, time.Now(), "ago", "from now"))
	}
	return nil
}

func (con *console) renderProgress(p schema.ProgressPayload) {
	whole := p.Whole
	if whole <= 0 {
		whole = 100
	}
	pct := p.Progress * 100 / whole
	con.mu.Lock()
	con.progress = true
	con.mu.Unlock()
	_, _ = fmt.Fprintf(con.out, "\r%s %s/%s (%d%%)\033[K", p.Title, humanize.Comma(int64(p.Progress)), humanize.Comma(int64(whole)), pct)
}

// endProgress terminates an in-place progress line.
func (con *console) endProgress() {
	con.mu.Lock()
	defer con.mu.Unlock()
	if con.progress {
		con.progress = false
		_, _ = fmt.Fprintln(con.out)
	}
}

// interrupt asks the server to stop the running command.
func (con *console) interrupt() {
	if !con.running.Load() {
		_, _ = fmt.Fprintf(con.out, "\nType exit to quit.\n%s", con.prompt())
		return
	}
	if err := con.c.Interrupt(); err != nil {
		_, _ = fmt.Fprintf(con.errOut, "interrupt failed: %v\n", err)
	}
}

func (con *console) help(args []string) error {
	metas := append(command.BuiltinMeta(), con.c.Meta().Commands...)
	if len(args) == 0 {
		return command.FormatHelp(con.out, metas)
	}
	for _, m := range metas {
		for _, n := range m.Names {
			if n == args[0] {
				return command.FormatCommandHelp(con.out, m)
			}
		}
	}
	_, _ = fmt.Fprintf(con.errOut, "error: command not found: %s\n", args[0])
	return nil
}

func (con *console) printHistory() {
	con.mu.Lock()
	defer con.mu.Unlock()
	for i, line := range con.history.Entries() {
		_, _ = fmt.Fprintf(con.out, "%4d  %s\n", i+1, line)
	}
}

func (con *console) stacktrace() {
	err := con.lastError()
	if err == nil {
		_, _ = fmt.Fprintln(con.out, "No error recorded.")
		return
	}
	if code := schema.CodeOf(err); code != "" {
		_, _ = fmt.Fprintf(con.out, "code: %s\n", code)
	}
	for depth := 0; err != nil; depth++ {
		_, _ = fmt.Fprintf(con.out, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
}

func (con *console) login(ctx context.Context, fields []string) error {
	var username string
	if len(fields) > 1 {
		username = fields[1]
	} else {
		_, _ = fmt.Fprint(con.out, "Username: ")
		line, err := con.in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	password, err := promptSecret(con.src, con.in, con.out, "Password: ")
	if err != nil {
		return err
	}
	code, err := promptSecret(con.src, con.in, con.out, "TOTP (empty if none): ")
	if err != nil {
		return err
	}
	res, err := con.c.Login(ctx, username, password, strings.TrimSpace(code))
	if err != nil {
		con.setLastErr(err)
		_, _ = fmt.Fprintf(con.errOut, "error: %v\n", err)
		return nil
	}
	_, _ = fmt.Fprintln(con.out, res.Description)
	if !res.Authenticated && con.c.Meta().ACLEnabled {
		con.setLastErr(fmt.Errorf("%w: %s", schema.ErrUnauthenticated, res.Description))
	}
	return nil
}

func (con *console) setLastErr(err error) {
	con.mu.Lock()
	con.lastErr = err
	con.mu.Unlock()
}

func (con *console) lastError() error {
	con.mu.Lock()
	defer con.mu.Unlock()
	return con.lastErr
}
