package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/internal/lock"
	"pkt.systems/rshell/internal/logx"
	"pkt.systems/rshell/schema"
)

// DefaultLockTTL bounds a command lock when neither the command nor the
// configuration sets one.
const DefaultLockTTL = 10 * time.Minute

// LockNamePrefix prefixes the lock name of every locked command.
const LockNamePrefix = "command."

// Authorizer decides whether a session may run a command.
type Authorizer interface {
	Authorize(sess command.Session, spec *command.Spec) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(sess command.Session, spec *command.Spec) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(sess command.Session, spec *command.Spec) error {
	return f(sess, spec)
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Registry   *command.Registry
	Locks      *lock.Manager
	Authorizer Authorizer
	Events     EventSink
	Logger     pslog.Logger
	// LockTTL is the lease of a command lock unless the command overrides it.
	LockTTL time.Duration
	// LockWait bounds how long a locked command waits for the lock. Zero
	// fails immediately when the lock is held elsewhere.
	LockWait time.Duration
	// CommandTimeout force-completes frames still open after this long.
	CommandTimeout     time.Duration
	DisableAuditTrails bool
}

// Dispatcher runs input lines against the registry on a channel.
type Dispatcher struct {
	registry *command.Registry
	locks    *lock.Manager
	auth     Authorizer
	events   EventSink
	logger   pslog.Logger
	lockTTL  time.Duration
	lockWait time.Duration
	timeout  time.Duration
	audit    bool
}

// NewDispatcher validates cfg and returns a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("dispatcher: registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	events := cfg.Events
	if events == nil {
		events = NopSink()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if cfg.LockWait < 0 || cfg.CommandTimeout < 0 {
		return nil, errors.New("dispatcher: negative lock wait or command timeout")
	}
	return &Dispatcher{
		registry: cfg.Registry,
		locks:    cfg.Locks,
		auth:     cfg.Authorizer,
		events:   events,
		logger:   logger,
		lockTTL:  ttl,
		lockWait: cfg.LockWait,
		timeout:  cfg.CommandTimeout,
		audit:    !cfg.DisableAuditTrails,
	}, nil
}

var closedDone = func() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Registry returns the command table.
func (d *Dispatcher) Registry() *command.Registry { return d.registry }

// Request is one line submitted on a channel.
type Request struct {
	Channel *Channel
	Session command.Session
	// Worker identifies the holder within this process for command locks.
	Worker string
	Remote string
	Line   string
}

// Dispatch opens a frame for req, runs the command, and returns a channel
// that is closed when the frame completes. Every exit path closes the frame
// exactly once, except a handler taking the channel parameter, which owns
// completion and is bounded by the command timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) <-chan struct{} {
	ch := req.Channel
	if ctx.Err() != nil {
		d.logger.Debug("dispatch after cancel dropped", "session", req.Session.ID, "line", req.Line)
		return closedDone
	}
	line, parseErr := command.ParseLine(req.Line)
	name := line.Command
	var spec *command.Spec
	if parseErr == nil {
		spec, _ = d.registry.Lookup(name)
	}
	frame, err := ch.Open(name, req.Line, spec != nil && spec.Interruptible)
	if errors.Is(err, schema.ErrChannelBusy) {
		d.logger.Warn("dispatch on open frame", "session", req.Session.ID, "command", name)
		return ch.Done()
	}
	done := ch.Done()
	logger := logx.WithCommand(logx.WithSession(d.logger, req.Session.ID), name, frame)
	if err != nil {
		logger.Debug("begin of frame not delivered", "err", err)
	}
	d.observe(ch, req, name, frame, logger)
	ch.NotifyCommand(req.Line)

	if d.timeout > 0 {
		timeout := d.timeout
		timer := time.AfterFunc(timeout, func() {
			if ch.FailFrame(frame, fmt.Errorf("%w after %s", schema.ErrCommandTimeout, timeout)) {
				logger.Warn("command force completed", "timeout", timeout)
			}
		})
		ch.OnComplete(func(FrameResult) { timer.Stop() })
	}

	call, err := d.prepare(ctx, req, line, parseErr, spec, logger)
	if err != nil {
		ch.FailFrame(frame, err)
		return done
	}
	handle := ch.Handle(frame)
	if handle.State() == schema.ChannelCompleted {
		return done
	}
	if spec.Streams() {
		call.Channel = handle
		call.Args = call.Args.WithChannel(handle)
	}

	hctx := logx.ContextWithSessionLogger(ctx, logger, req.Session.ID)
	result, err := invoke(hctx, spec, call)
	if err != nil {
		logger.Debug("command failed", "err", err)
		ch.FailFrame(frame, err)
		return done
	}
	if result != nil {
		if err := writeResult(handle, result); err != nil && !errors.Is(err, schema.ErrChannelCompleted) {
			logger.Debug("command result not delivered", "err", err)
		}
	}
	if !spec.Streams() {
		if err := ch.CompleteFrame(frame); err != nil && !errors.Is(err, schema.ErrChannelCompleted) {
			logger.Debug("end of frame not delivered", "err", err)
		}
	}
	return done
}

// prepare resolves everything that can fail before the handler runs:
// lookup, authorization, binding, and the command lock.
func (d *Dispatcher) prepare(ctx context.Context, req Request, line command.Line, parseErr error, spec *command.Spec, logger pslog.Logger) (*command.Call, error) {
	if parseErr != nil {
		return nil, parseErr
	}
	if spec == nil {
		if command.IsBuiltin(line.Command) {
			return nil, fmt.Errorf("%w: %s is handled by the client", schema.ErrCommandNotFound, line.Command)
		}
		return nil, fmt.Errorf("%w: %s", schema.ErrCommandNotFound, line.Command)
	}
	if d.auth != nil {
		if err := d.auth.Authorize(req.Session, spec); err != nil {
			return nil, err
		}
	}
	args, err := command.Bind(spec, line)
	if err != nil {
		return nil, err
	}
	if spec.MutualExclusion {
		if err := d.acquire(ctx, req, spec, logger); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connection gone before command started: %w", err)
	}
	return &command.Call{Name: line.Command, Line: req.Line, Args: args, Session: req.Session}, nil
}

func (d *Dispatcher) acquire(ctx context.Context, req Request, spec *command.Spec, logger pslog.Logger) error {
	if d.locks == nil {
		return errors.New("command requires a lock but no lock manager is configured")
	}
	ttl := spec.LockTTL
	if ttl <= 0 {
		ttl = d.lockTTL
	}
	l, err := d.locks.New(LockNamePrefix+spec.Name(), req.Worker, ttl)
	if err != nil {
		return err
	}
	var ok bool
	if d.lockWait > 0 {
		ok, err = l.TryLockTimeout(ctx, min(d.lockWait, ttl))
	} else {
		ok, err = l.TryLock(ctx)
	}
	if err != nil {
		return fmt.Errorf("acquire command lock: %w", err)
	}
	if !ok {
		return schema.ErrLockTimeout
	}
	req.Channel.OnComplete(func(FrameResult) {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("command lock release failed", "lock", l.Name(), "err", err)
		}
	})
	return nil
}

// observe publishes the started event and arranges the completed event and
// audit trail.
func (d *Dispatcher) observe(ch *Channel, req Request, name string, frame uint64, logger pslog.Logger) {
	d.events.OnCommandEvent(schema.CommandEvent{
		Phase:     schema.CommandStarted,
		SessionID: req.Session.ID,
		Username:  req.Session.Username,
		Remote:    req.Remote,
		Command:   name,
		Line:      req.Line,
		Frame:     frame,
		At:        time.Now(),
	})
	ch.OnComplete(func(res FrameResult) {
		duration := res.Ended.Sub(res.Started)
		d.events.OnCommandEvent(schema.CommandEvent{
			Phase:     schema.CommandCompleted,
			SessionID: req.Session.ID,
			Username:  req.Session.Username,
			Remote:    req.Remote,
			Command:   res.Command,
			Line:      res.Line,
			Frame:     res.Frame,
			Outcome:   res.Outcome(),
			Duration:  duration,
			At:        res.Ended,
		})
		if d.audit {
			logger.Debug("command audit", "user", req.Session.Username, "remote", req.Remote, "line", res.Line, "outcome", res.Outcome(), "duration", duration)
		}
	})
}

// invoke runs the handler and converts a panic into an execution error.
func invoke(ctx context.Context, spec *command.Spec, call *command.Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			pslog.Ctx(ctx).Error("command panicked", "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("command %s panicked: %v", spec.Name(), r)
		}
	}()
	return spec.Handler(ctx, call)
}

func writeResult(ch command.Channel, result any) error {
	switch v := result.(type) {
	case string:
		return ch.Println(v)
	case fmt.Stringer:
		return ch.Println(v.String())
	case []string:
		for _, s := range v {
			if err := ch.Println(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return ch.Println(v)
	}
}
