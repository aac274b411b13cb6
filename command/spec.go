// Package command is the declaration surface for console commands: specs,
// typed parameters, the static registry, and line binding.
package command

import (
	"context"
	"time"

	"pkt.systems/rshell/schema"
)

// DefaultGroup is used for commands that declare no group.
const DefaultGroup = "General"

// HandlerFunc runs a command. A non-nil result is written to the client as
// output before the frame closes.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Spec declares one invocable command.
type Spec struct {
	// Names holds the primary name followed by aliases.
	Names         []string
	Group         string
	Help          string
	Interruptible bool
	Permissions   []schema.Permission
	// MutualExclusion serializes the command across every server sharing
	// the cache backend.
	MutualExclusion bool
	// LockTTL overrides the configured lease ttl for this command.
	LockTTL    time.Duration
	Parameters []Parameter
	Handler    HandlerFunc
}

// Name returns the primary name.
func (s *Spec) Name() string {
	if len(s.Names) == 0 {
		return ""
	}
	return s.Names[0]
}

// Streams reports whether the command takes the channel parameter.
func (s *Spec) Streams() bool {
	return s.channelIndex() >= 0
}

func (s *Spec) channelIndex() int {
	for i, p := range s.Parameters {
		if p.kind == paramChannel {
			return i
		}
	}
	return -1
}

// Meta returns the client-facing description of s.
func (s *Spec) Meta() schema.CommandMeta {
	m := schema.CommandMeta{
		Names:         append([]string(nil), s.Names...),
		Group:         s.Group,
		Help:          s.Help,
		Interruptible: s.Interruptible,
		Permissions:   append([]schema.Permission(nil), s.Permissions...),
		Lock:          s.MutualExclusion,
	}
	for _, p := range s.Parameters {
		m.Parameters = append(m.Parameters, p.meta())
	}
	return m
}

// Session is the view of the caller's session handed to handlers.
type Session struct {
	ID            schema.SessionID
	Username      schema.Username
	Authenticated bool
	Permissions   []schema.Permission
	Host          string
}

// Call is everything a handler receives for one invocation.
type Call struct {
	// Name is the alias the user typed.
	Name    string
	Line    string
	Args    Args
	Session Session
	// Channel is set only when the command declares ChannelParam.
	Channel Channel
}

// Channel is the live output handle of the frame a command runs in.
type Channel interface {
	SessionID() schema.SessionID
	State() schema.ChannelState
	Printf(format string, args ...any) error
	Println(args ...any) error
	Errorf(format string, args ...any) error
	// Progress reports done out of whole units; whole <= 0 means 100.
	Progress(title string, whole, done int) error
	// ProgressFraction reports a completion fraction in [0,1].
	ProgressFraction(title string, fraction float64) error
	// Complete closes the frame. Further output fails.
	Complete() error
	// CompleteWith reports full progress under message, then closes the frame.
	CompleteWith(message string) error
	// Interrupted reports whether the client confirmed an interrupt. It
	// fails for commands that are not interruptible.
	Interrupted() (bool, error)
	AddListener(name string, l Listener) error
	RemoveListener(name string) error
}

// Listener observes channel events.
type Listener interface {
	OnCommand(ch Channel, line string)
	OnPreInterrupt(ch Channel)
	OnInterrupt(ch Channel, confirmed bool)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	Command      func(ch Channel, line string)
	PreInterrupt func(ch Channel)
	Interrupt    func(ch Channel, confirmed bool)
}

// OnCommand implements Listener.
func (l ListenerFuncs) OnCommand(ch Channel, line string) {
	if l.Command != nil {
		l.Command(ch, line)
	}
}

// OnPreInterrupt implements Listener.
func (l ListenerFuncs) OnPreInterrupt(ch Channel) {
	if l.PreInterrupt != nil {
		l.PreInterrupt(ch)
	}
}

// OnInterrupt implements Listener.
func (l ListenerFuncs) OnInterrupt(ch Channel, confirmed bool) {
	if l.Interrupt != nil {
		l.Interrupt(ch, confirmed)
	}
}
