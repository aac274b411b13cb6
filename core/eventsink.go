package core

import "pkt.systems/rshell/schema"

// EventSink receives lifecycle events from the console engine.
type EventSink interface {
	OnCommandEvent(event schema.CommandEvent)
	OnConnectionEvent(event schema.ConnectionEvent)
	OnLoginEvent(event schema.LoginEvent)
}

type nopSink struct{}

func (nopSink) OnCommandEvent(schema.CommandEvent)       {}
func (nopSink) OnConnectionEvent(schema.ConnectionEvent) {}
func (nopSink) OnLoginEvent(schema.LoginEvent)           {}

// NopSink returns a sink that drops every event.
func NopSink() EventSink { return nopSink{} }
