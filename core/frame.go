package core

import (
	"fmt"

	"pkt.systems/rshell/command"
	"pkt.systems/rshell/schema"
)

// FrameHandle is the channel view handed to a command. It is pinned to the
// frame the command was dispatched in, so a command that outlives its frame
// (for example after the command timeout) cannot write into the next one.
type FrameHandle struct {
	c     *Channel
	frame uint64
}

var _ command.Channel = FrameHandle{}

// Handle returns a view of c pinned to frame.
func (c *Channel) Handle(frame uint64) FrameHandle {
	return FrameHandle{c: c, frame: frame}
}

// Frame returns the pinned frame number.
func (h FrameHandle) Frame() uint64 { return h.frame }

// SessionID implements command.Channel.
func (h FrameHandle) SessionID() schema.SessionID { return h.c.SessionID() }

// State reports Completed once the pinned frame is no longer the open one.
func (h FrameHandle) State() schema.ChannelState {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.frame != h.frame {
		return schema.ChannelCompleted
	}
	return h.c.state
}

// Printf implements command.Channel.
func (h FrameHandle) Printf(format string, args ...any) error {
	return h.c.emitFrame(h.frame, schema.KindStdout, schema.StdoutPayload{Text: fmt.Sprintf(format, args...)})
}

// Println implements command.Channel.
func (h FrameHandle) Println(args ...any) error {
	return h.c.emitFrame(h.frame, schema.KindStdout, schema.StdoutPayload{Text: fmt.Sprintln(args...)})
}

// Errorf implements command.Channel.
func (h FrameHandle) Errorf(format string, args ...any) error {
	return h.c.emitFrame(h.frame, schema.KindStderr, schema.StderrPayload{Message: fmt.Sprintf(format, args...)})
}

// Progress implements command.Channel.
func (h FrameHandle) Progress(title string, whole, done int) error {
	return h.c.emitFrame(h.frame, schema.KindProgress, progressPayload(title, whole, done))
}

// ProgressFraction implements command.Channel.
func (h FrameHandle) ProgressFraction(title string, fraction float64) error {
	return h.c.emitFrame(h.frame, schema.KindProgress, fractionPayload(title, fraction))
}

// Complete implements command.Channel.
func (h FrameHandle) Complete() error {
	return h.c.CompleteFrame(h.frame)
}

// CompleteWith implements command.Channel.
func (h FrameHandle) CompleteWith(message string) error {
	if err := h.Progress(message, DefaultProgressWhole, DefaultProgressWhole); err != nil && h.State() == schema.ChannelCompleted {
		return schema.ErrChannelCompleted
	}
	return h.Complete()
}

// Interrupted reports true once the pinned frame was closed from outside,
// so polling loops stop.
func (h FrameHandle) Interrupted() (bool, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if !h.c.interruptible && h.c.frame == h.frame {
		return false, schema.ErrInterruptNotSupported
	}
	if h.c.frame != h.frame || !h.c.state.Open() {
		return true, nil
	}
	return h.c.interrupted, nil
}

// AddListener implements command.Channel.
func (h FrameHandle) AddListener(name string, l command.Listener) error {
	if h.State() == schema.ChannelCompleted {
		return schema.ErrChannelCompleted
	}
	return h.c.AddListener(name, l)
}

// RemoveListener implements command.Channel.
func (h FrameHandle) RemoveListener(name string) error {
	if h.State() == schema.ChannelCompleted {
		return schema.ErrChannelCompleted
	}
	return h.c.RemoveListener(name)
}
