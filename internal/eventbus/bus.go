// Package eventbus fans console lifecycle events out to in-process
// subscribers such as the audit trail.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/rshell/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventCommand carries a command frame lifecycle update.
	EventCommand EventType = "command"
	// EventConnection carries a connection lifecycle update.
	EventConnection EventType = "connection"
	// EventLogin carries a login attempt.
	EventLogin EventType = "login"
)

// Event is one published lifecycle event.
type Event struct {
	Type       EventType
	Command    schema.CommandEvent
	Connection schema.ConnectionEvent
	Login      schema.LoginEvent
}

// DefaultDepth is the buffer size of each subscriber channel.
const DefaultDepth = 256

// Bus fans out events to subscribers. Publishing never blocks; a subscriber
// that falls behind loses events.
type Bus struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	log     pslog.Logger
	depth   int
	dropped uint64
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: DefaultDepth,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// Dropped returns the number of events lost to full subscribers.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// OnCommandEvent publishes a command event.
func (b *Bus) OnCommandEvent(event schema.CommandEvent) {
	b.publish(Event{Type: EventCommand, Command: event})
}

// OnConnectionEvent publishes a connection event.
func (b *Bus) OnConnectionEvent(event schema.ConnectionEvent) {
	b.publish(Event{Type: EventConnection, Connection: event})
}

// OnLoginEvent publishes a login event.
func (b *Bus) OnLoginEvent(event schema.LoginEvent) {
	b.publish(Event{Type: EventLogin, Login: event})
}

// publish holds the lock while sending so cancel cannot close a channel
// mid-send. Sends are non-blocking.
func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.dropped += uint64(dropped)
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "type", event.Type, "count", dropped)
	}
}
