package rshell

import (
	"pkt.systems/rshell/core"
	"pkt.systems/rshell/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func newEventFanout(sinks ...core.EventSink) core.EventSink {
	out := make([]core.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	switch len(out) {
	case 0:
		return core.NopSink()
	case 1:
		return out[0]
	}
	return eventFanout{sinks: out}
}

func (f eventFanout) OnCommandEvent(event schema.CommandEvent) {
	for _, sink := range f.sinks {
		sink.OnCommandEvent(event)
	}
}

func (f eventFanout) OnConnectionEvent(event schema.ConnectionEvent) {
	for _, sink := range f.sinks {
		sink.OnConnectionEvent(event)
	}
}

func (f eventFanout) OnLoginEvent(event schema.LoginEvent) {
	for _, sink := range f.sinks {
		sink.OnLoginEvent(event)
	}
}
