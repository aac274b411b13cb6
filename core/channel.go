package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/schema"
)

// DefaultListener is the name of the channel's built-in listener. It cannot
// be removed.
const DefaultListener = "default"

// DefaultProgressWhole is used when a progress report gives no whole.
const DefaultProgressWhole = 100

var errReservedListener = errors.New("the default listener cannot be replaced or removed")

// Sender writes one signal to the peer.
type Sender interface {
	Send(kind schema.SignalKind, sessionID schema.SessionID, payload any) error
}

// FrameResult describes a closed frame to completion hooks.
type FrameResult struct {
	Frame       uint64
	Command     string
	Line        string
	Code        schema.ErrorCode
	Interrupted bool
	Started     time.Time
	Ended       time.Time
}

// Outcome renders the result the way events and metrics label it.
func (r FrameResult) Outcome() string {
	switch {
	case r.Code != "":
		return string(r.Code)
	case r.Interrupted:
		return schema.OutcomeInterrupted
	default:
		return schema.OutcomeOK
	}
}

// Channel is the per-connection state machine. One frame is open at a time;
// every output signal is emitted between the frame's BeginOfFrame and
// EndOfFrame.
type Channel struct {
	out    Sender
	logger pslog.Logger
	now    func() time.Time

	mu            sync.Mutex
	sessionID     schema.SessionID
	state         schema.ChannelState
	frame         uint64
	command       string
	line          string
	interruptible bool
	interrupted   bool
	code          schema.ErrorCode
	started       time.Time
	listeners     map[string]command.Listener
	order         []string
	hooks         []func(FrameResult)
	done          chan struct{}
}

// NewChannel binds a channel to out. A nil logger uses the background logger.
func NewChannel(out Sender, sessionID schema.SessionID, logger pslog.Logger) *Channel {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	done := make(chan struct{})
	close(done)
	ch := &Channel{
		out:       out,
		logger:    logger,
		now:       time.Now,
		sessionID: sessionID,
		state:     schema.ChannelNew,
		done:      done,
	}
	ch.listeners = map[string]command.Listener{DefaultListener: defaultListener{logger: logger}}
	ch.order = []string{DefaultListener}
	return ch
}

var _ command.Channel = (*Channel)(nil)

// SessionID returns the id carried on outgoing signals.
func (c *Channel) SessionID() schema.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID switches the id carried on outgoing signals.
func (c *Channel) SetSessionID(id schema.SessionID) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// State returns the current state.
func (c *Channel) State() schema.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frame returns the number of the current or last frame.
func (c *Channel) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Done is closed when the current frame completes. Before any frame it is
// already closed.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Open starts a frame: state becomes Running and BeginOfFrame is emitted.
// Listeners added by the previous command are dropped.
func (c *Channel) Open(name, line string, interruptible bool) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Open() {
		return 0, schema.ErrChannelBusy
	}
	c.frame++
	c.state = schema.ChannelRunning
	c.command = name
	c.line = line
	c.interruptible = interruptible
	c.interrupted = false
	c.code = ""
	c.started = c.now()
	c.hooks = nil
	c.done = make(chan struct{})
	c.resetListenersLocked()
	err := c.out.Send(schema.KindBeginOfFrame, c.sessionID, schema.BeginOfFramePayload{Command: name, Frame: c.frame})
	return c.frame, err
}

func (c *Channel) resetListenersLocked() {
	for _, name := range c.order {
		if name != DefaultListener {
			delete(c.listeners, name)
		}
	}
	c.order = []string{DefaultListener}
}

// OnComplete registers fn to run once the current frame closes. Hooks run in
// registration order outside the channel lock. If no frame is open fn runs
// immediately with the last result.
func (c *Channel) OnComplete(fn func(FrameResult)) {
	c.mu.Lock()
	if c.state.Open() {
		c.hooks = append(c.hooks, fn)
		c.mu.Unlock()
		return
	}
	res := c.resultLocked()
	c.mu.Unlock()
	fn(res)
}

func (c *Channel) resultLocked() FrameResult {
	return FrameResult{
		Frame:       c.frame,
		Command:     c.command,
		Line:        c.line,
		Code:        c.code,
		Interrupted: c.interrupted,
		Started:     c.started,
		Ended:       c.now(),
	}
}

// emit sends one output signal if the frame is open.
func (c *Channel) emit(kind schema.SignalKind, payload any) error {
	return c.emitFrame(0, kind, payload)
}

// emitFrame sends one output signal if frame is the open one. frame 0
// matches any frame.
func (c *Channel) emitFrame(frame uint64, kind schema.SignalKind, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Open() || (frame != 0 && frame != c.frame) {
		return schema.ErrChannelCompleted
	}
	return c.out.Send(kind, c.sessionID, payload)
}

// Reply sends a signal outside any frame, such as Meta or Login, stamped
// with the current session id.
func (c *Channel) Reply(kind schema.SignalKind, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Send(kind, c.sessionID, payload)
}

// Printf writes formatted output.
func (c *Channel) Printf(format string, args ...any) error {
	return c.emit(schema.KindStdout, schema.StdoutPayload{Text: fmt.Sprintf(format, args...)})
}

// Println writes one line of output.
func (c *Channel) Println(args ...any) error {
	return c.emit(schema.KindStdout, schema.StdoutPayload{Text: fmt.Sprintln(args...)})
}

// Errorf writes formatted error output. It does not mark the frame failed.
func (c *Channel) Errorf(format string, args ...any) error {
	return c.emit(schema.KindStderr, schema.StderrPayload{Message: fmt.Sprintf(format, args...)})
}

// Fail writes err as Stderr with its code and records the code for the
// frame result. Only the first failure of a frame is recorded.
func (c *Channel) Fail(err error) error {
	code := schema.CodeOf(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Open() {
		return schema.ErrChannelCompleted
	}
	if c.code == "" {
		c.code = code
	}
	return c.out.Send(schema.KindStderr, c.sessionID, schema.StderrPayload{Message: err.Error(), Code: code})
}

// Progress reports done out of whole. whole <= 0 means DefaultProgressWhole
// and done is clamped into [0, whole].
func (c *Channel) Progress(title string, whole, done int) error {
	return c.emitFrame(0, schema.KindProgress, progressPayload(title, whole, done))
}

// ProgressFraction reports fraction of DefaultProgressWhole.
func (c *Channel) ProgressFraction(title string, fraction float64) error {
	return c.emitFrame(0, schema.KindProgress, fractionPayload(title, fraction))
}

func progressPayload(title string, whole, done int) schema.ProgressPayload {
	if whole <= 0 {
		whole = DefaultProgressWhole
	}
	done = min(max(done, 0), whole)
	return schema.ProgressPayload{Title: title, Whole: whole, Progress: done}
}

func fractionPayload(title string, fraction float64) schema.ProgressPayload {
	if math.IsNaN(fraction) {
		fraction = 0
	}
	fraction = math.Min(math.Max(fraction, 0), 1)
	return progressPayload(title, DefaultProgressWhole, int(math.Round(fraction*DefaultProgressWhole)))
}

// Complete closes the frame: EndOfFrame is emitted, state becomes Completed,
// and completion hooks run. Completing a closed frame fails with
// ErrChannelCompleted. The state changes even if the send fails.
func (c *Channel) Complete() error {
	_, err := c.finish(0, nil)
	return err
}

// CompleteWith reports full progress under message and closes the frame.
func (c *Channel) CompleteWith(message string) error {
	if err := c.Progress(message, DefaultProgressWhole, DefaultProgressWhole); errors.Is(err, schema.ErrChannelCompleted) {
		return err
	}
	return c.Complete()
}

// CompleteFrame closes frame if it is still the open one.
func (c *Channel) CompleteFrame(frame uint64) error {
	_, err := c.finish(frame, nil)
	return err
}

// FailFrame reports failure and closes frame if it is still the open one.
// It reports whether it closed the frame.
func (c *Channel) FailFrame(frame uint64, failure error) bool {
	closed, _ := c.finish(frame, failure)
	return closed
}

// finish closes the open frame. frame 0 matches any frame.
func (c *Channel) finish(frame uint64, failure error) (bool, error) {
	c.mu.Lock()
	if !c.state.Open() || (frame != 0 && frame != c.frame) {
		c.mu.Unlock()
		return false, schema.ErrChannelCompleted
	}
	if failure != nil {
		code := schema.CodeOf(failure)
		if c.code == "" {
			c.code = code
		}
		if err := c.out.Send(schema.KindStderr, c.sessionID, schema.StderrPayload{Message: failure.Error(), Code: code}); err != nil {
			c.logger.Debug("channel failure not delivered", "session", c.sessionID, "err", err)
		}
	}
	c.state = schema.ChannelCompleted
	sendErr := c.out.Send(schema.KindEndOfFrame, c.sessionID, schema.EndOfFramePayload{Frame: c.frame})
	res := c.resultLocked()
	hooks := c.hooks
	c.hooks = nil
	done := c.done
	c.mu.Unlock()

	for _, hook := range hooks {
		hook(res)
	}
	close(done)
	return true, sendErr
}

// Interrupted reports whether the user confirmed an interrupt of the running
// command.
func (c *Channel) Interrupted() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interruptible {
		return false, schema.ErrInterruptNotSupported
	}
	return c.interrupted, nil
}

// AddListener registers l under name for the current frame.
func (c *Channel) AddListener(name string, l command.Listener) error {
	if name == DefaultListener {
		return errReservedListener
	}
	if name == "" || l == nil {
		return errors.New("listener needs a name and a value")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.listeners[name]; !ok {
		c.order = append(c.order, name)
	}
	c.listeners[name] = l
	return nil
}

// RemoveListener drops the named listener.
func (c *Channel) RemoveListener(name string) error {
	if name == DefaultListener {
		return errReservedListener
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.listeners[name]; !ok {
		return fmt.Errorf("no listener named %q", name)
	}
	delete(c.listeners, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (c *Channel) snapshotListeners() []command.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]command.Listener, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.listeners[name])
	}
	return out
}

// NotifyCommand tells listeners a line was dispatched on this channel.
func (c *Channel) NotifyCommand(line string) {
	for _, l := range c.snapshotListeners() {
		l.OnCommand(c, line)
	}
}

// PreInterrupt starts interrupt negotiation: listeners are notified and the
// client is asked to confirm.
func (c *Channel) PreInterrupt() error {
	c.mu.Lock()
	switch {
	case !c.state.Open():
		c.mu.Unlock()
		return schema.ErrNoRunningCommand
	case !c.interruptible:
		c.mu.Unlock()
		return schema.ErrInterruptNotSupported
	}
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		l.OnPreInterrupt(c)
	}
	return c.emit(schema.KindAskInterrupt, schema.AskInterruptPayload{Subject: schema.InterruptSubject})
}

// AckInterrupt applies the client's answer. A confirmation moves a running
// frame to Interrupted; the command observes it through Interrupted.
func (c *Channel) AckInterrupt(confirmed bool) error {
	c.mu.Lock()
	switch {
	case !c.state.Open():
		c.mu.Unlock()
		return schema.ErrNoRunningCommand
	case !c.interruptible:
		c.mu.Unlock()
		return schema.ErrInterruptNotSupported
	}
	if confirmed {
		c.interrupted = true
		c.state = schema.ChannelInterrupted
	}
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		l.OnInterrupt(c, confirmed)
	}
	return nil
}

type defaultListener struct {
	logger pslog.Logger
}

func (l defaultListener) OnCommand(ch command.Channel, line string) {
	l.logger.Trace("channel command", "session", ch.SessionID(), "line", line)
}

func (l defaultListener) OnPreInterrupt(ch command.Channel) {
	l.logger.Debug("channel interrupt requested", "session", ch.SessionID())
}

func (l defaultListener) OnInterrupt(ch command.Channel, confirmed bool) {
	l.logger.Debug("channel interrupt answered", "session", ch.SessionID(), "confirmed", confirmed)
}
