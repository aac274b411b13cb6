package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/rshell/schema"
)

type contextKey int

const (
	connKey contextKey = iota
	sessionKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithConn annotates the logger with the connection id and remote address.
func WithConn(ctx context.Context, connID, remote string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if connID != "" {
		if current, ok := ctx.Value(connKey).(string); ok && current == connID {
			return log
		}
		log = log.With("conn", connID)
	}
	if remote != "" {
		log = log.With("remote", remote)
	}
	return log
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionCtx annotates the context logger with a session id unless the
// context already carries it.
func WithSessionCtx(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
		return log
	}
	return WithSession(log, sessionID)
}

// WithCommand annotates the logger with the command name and frame.
func WithCommand(log pslog.Logger, name string, frame uint64) pslog.Logger {
	if name != "" {
		log = log.With("command", name)
	}
	if frame > 0 {
		log = log.With("frame", frame)
	}
	return log
}

// ContextWithConn stores the connection marker on the context for log de-duplication.
func ContextWithConn(ctx context.Context, connID string) context.Context {
	if ctx == nil || connID == "" {
		return ctx
	}
	return context.WithValue(ctx, connKey, connID)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithConnLogger attaches the logger and connection marker to the context.
func ContextWithConnLogger(ctx context.Context, log pslog.Logger, connID string) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithConn(ctx, connID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// CopyContextFields copies connection/session markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if conn, ok := src.Value(connKey).(string); ok && conn != "" {
		dst = ContextWithConn(dst, conn)
	}
	if sess, ok := src.Value(sessionKey).(schema.SessionID); ok && sess != "" {
		dst = ContextWithSession(dst, sess)
	}
	return dst
}
