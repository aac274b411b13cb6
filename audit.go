package rshell

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/rshell/internal/eventbus"
	"pkt.systems/rshell/schema"
)

// runAuditTrail logs connection and login events from the bus until ctx
// ends or the subscription closes. Command audits are logged by the
// dispatcher itself.
func runAuditTrail(ctx context.Context, events <-chan eventbus.Event, log pslog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			auditEvent(log, ev)
		}
	}
}

func auditEvent(log pslog.Logger, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventConnection:
		c := ev.Connection
		fields := []any{"conn", c.ConnID, "remote", c.Remote}
		if c.SessionID != "" {
			fields = append(fields, "session", c.SessionID)
		}
		switch c.Phase {
		case schema.ConnectionRejected:
			log.Debug("audit connection rejected", fields...)
		default:
			log.Debug("audit connection "+string(c.Phase), fields...)
		}
	case eventbus.EventLogin:
		l := ev.Login
		if l.Authenticated {
			log.Info("audit login", "session", l.SessionID, "user", l.Username, "remote", l.Remote)
			return
		}
		log.Warn("audit login failed", "session", l.SessionID, "user", l.Username, "remote", l.Remote)
	case eventbus.EventCommand:
		cmd := ev.Command
		if cmd.Phase == schema.CommandCompleted && cmd.Outcome != schema.OutcomeOK {
			log.Debug("audit command failed", "session", cmd.SessionID, "user", cmd.Username, "command", cmd.Command, "outcome", cmd.Outcome)
		}
	}
}
