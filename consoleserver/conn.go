package consoleserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/core"
	"pkt.systems/rshell/internal/logx"
	"pkt.systems/rshell/internal/metrics"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/internal/wire"
	"pkt.systems/rshell/schema"
)

// ErrDisconnected completes a frame still open when its client goes away.
var ErrDisconnected = errors.New("client disconnected")

// connection is one accepted socket: a read loop plus the executor that runs
// its commands.
type connection struct {
	srv    *Server
	id     string
	remote string
	host   string
	conn   *wire.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    pslog.Logger

	channel *core.Channel
	exec    *core.Executor

	mu   sync.Mutex
	sess schema.Session

	closeOnce sync.Once
}

func newConnection(parent context.Context, s *Server, nc net.Conn) *connection {
	id := core.NewConnID()
	remote := nc.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	log := s.log.With("conn", id, "remote", remote)
	ctx, cancel := context.WithCancel(logx.ContextWithConnLogger(context.WithoutCancel(parent), log, id))
	c := &connection{
		srv:    s,
		id:     id,
		remote: remote,
		host:   host,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	c.conn = wire.NewConn(nc, wire.WithMaxMessageBytes(s.cfg.MaxMessageBytes), wire.WithWriteTimeout(s.cfg.WriteTimeout))
	c.channel = core.NewChannel(countingSender{conn: c.conn, obs: s.cfg.Signals}, "", log)
	c.exec = core.NewExecutor(ctx, log)
	return c
}

// countingSender reports outbound signals to the observer.
type countingSender struct {
	conn *wire.Conn
	obs  SignalObserver
}

func (s countingSender) Send(kind schema.SignalKind, sessionID schema.SessionID, payload any) error {
	err := s.conn.Send(kind, sessionID, payload)
	if err == nil && s.obs != nil {
		s.obs.Signal(kind, metrics.DirectionOut)
	}
	return err
}

func (c *connection) send(kind schema.SignalKind, payload any) error {
	return c.channel.Reply(kind, payload)
}

func (c *connection) serve() {
	defer c.srv.release(c)
	defer c.teardown()

	c.log.Debug("console connection accepted")
	c.srv.events.OnConnectionEvent(schema.ConnectionEvent{Phase: schema.ConnectionOpened, ConnID: c.id, Remote: c.remote, At: time.Now()})
	for {
		sig, err := c.conn.ReadSignal()
		if err != nil {
			c.readFailed(err)
			return
		}
		if c.srv.cfg.Signals != nil {
			c.srv.cfg.Signals.Signal(sig.Kind, metrics.DirectionIn)
		}
		c.log.Trace("console signal received", "kind", sig.Kind, "session", sig.SessionID)
		if err := c.handle(sig); err != nil {
			if errors.Is(err, schema.ErrProtocol) || errors.Is(err, schema.ErrMissingSessionID) {
				c.protocolError(err)
				return
			}
			c.log.Warn("console signal failed", "kind", sig.Kind, "err", err)
			if sendErr := c.send(schema.KindStderr, schema.StderrPayload{Message: err.Error(), Code: schema.CodeOf(err)}); sendErr != nil {
				return
			}
		}
	}
}

func (c *connection) readFailed(err error) {
	switch {
	case wire.IsDisconnect(err), c.ctx.Err() != nil:
		c.log.Debug("console connection closed by peer")
	case errors.Is(err, schema.ErrProtocol):
		c.protocolError(err)
	default:
		c.log.Debug("console connection read failed", "err", err)
	}
}

// protocolError reports err best effort and drops the connection.
func (c *connection) protocolError(err error) {
	c.log.Warn("console protocol error", "err", err)
	_ = c.send(schema.KindStderr, schema.StderrPayload{Message: err.Error(), Code: schema.CodeProtocol})
}

func (c *connection) handle(sig schema.Signal) error {
	if !sig.Kind.ClientOriginated() {
		return fmt.Errorf("%w: %s is not accepted from clients", schema.ErrProtocol, sig.Kind)
	}
	if sig.Kind == schema.KindMeta {
		return c.handleMeta(sig)
	}
	if sig.SessionID == "" {
		return fmt.Errorf("%w: %s signal", schema.ErrMissingSessionID, sig.Kind)
	}
	sess, err := c.bind(sig.SessionID)
	if err != nil {
		return err
	}
	switch sig.Kind {
	case schema.KindPreLogin:
		var req schema.PreLoginPayload
		if err := sig.Decode(&req); err != nil {
			return err
		}
		return c.handleLogin(sess, req)
	case schema.KindStdin:
		var req schema.StdinPayload
		if err := sig.Decode(&req); err != nil {
			return err
		}
		return c.handleStdin(sess, req.Line)
	case schema.KindPreInterrupt:
		return c.channel.PreInterrupt()
	case schema.KindAckInterrupt:
		var req schema.AckInterruptPayload
		if err := sig.Decode(&req); err != nil {
			return err
		}
		return c.channel.AckInterrupt(req.Confirmed)
	default:
		return fmt.Errorf("%w: unexpected %s", schema.ErrProtocol, sig.Kind)
	}
}

// handleMeta resumes the session the client names, or creates one, and
// replies with the registry snapshot.
func (c *connection) handleMeta(sig schema.Signal) error {
	var sess schema.Session
	var err error
	if sig.SessionID != "" {
		sess, err = c.bind(sig.SessionID)
	} else {
		sess, err = c.create()
	}
	if err != nil {
		return err
	}
	aclEnabled := c.srv.cfg.ACL != nil && c.srv.cfg.ACL.Enabled()
	c.log.Debug("console meta", "session", sess.ID, "acl", aclEnabled)
	return c.send(schema.KindMeta, schema.MetaPayload{
		AppName:       c.srv.cfg.AppName,
		ServerVersion: c.srv.cfg.ServerVersion,
		ACLEnabled:    aclEnabled,
		Commands:      c.srv.cfg.Dispatcher.Registry().Meta(),
	})
}

func (c *connection) create() (schema.Session, error) {
	sess, err := c.srv.cfg.Sessions.Create(c.ctx, c.host)
	if err != nil {
		return schema.Session{}, err
	}
	c.adopt(sess)
	return sess, nil
}

func (c *connection) adopt(sess schema.Session) {
	c.mu.Lock()
	previous := c.sess.ID
	c.sess = sess
	c.mu.Unlock()
	c.channel.SetSessionID(sess.ID)
	if previous != sess.ID {
		c.log.Debug("console session bound", "session", sess.ID, "previous", previous)
	}
}

// bind resolves id to a stored session, creating a fresh one for unknown
// ids, then applies auth expiry and refreshes the activity timestamp.
func (c *connection) bind(id schema.SessionID) (schema.Session, error) {
	store := c.srv.cfg.Sessions
	sess, err := store.Get(c.ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		c.log.Debug("console session unknown, creating", "session", id)
		return c.create()
	}
	if err != nil {
		return schema.Session{}, err
	}
	if a := c.srv.cfg.ACL; a != nil {
		if expired, changed := a.Expire(sess); changed {
			sess = expired
		}
	}
	sess, err = store.Touch(c.ctx, sess)
	if err != nil {
		return schema.Session{}, err
	}
	c.adopt(sess)
	return sess, nil
}

func (c *connection) handleLogin(sess schema.Session, req schema.PreLoginPayload) error {
	a := c.srv.cfg.ACL
	if a == nil || !a.Enabled() {
		return c.send(schema.KindLogin, schema.LoginPayload{Authenticated: false, Description: schema.LoginNotRequired})
	}
	updated, reply := a.Login(sess, req, c.host)
	if updated.Authenticated != sess.Authenticated || updated.Username != sess.Username {
		if err := c.srv.cfg.Sessions.Put(c.ctx, updated); err != nil {
			return err
		}
		c.adopt(updated)
	}
	c.srv.events.OnLoginEvent(schema.LoginEvent{
		SessionID:     sess.ID,
		Username:      schema.Username(req.Username),
		Remote:        c.remote,
		Authenticated: reply.Authenticated,
		At:            time.Now(),
	})
	return c.send(schema.KindLogin, reply)
}

// handleStdin queues the line on the connection executor. The read loop
// returns immediately so interrupt signals stay responsive.
func (c *connection) handleStdin(sess schema.Session, line string) error {
	req := core.Request{
		Channel: c.channel,
		Session: command.Session{
			ID:            sess.ID,
			Username:      sess.Username,
			Authenticated: sess.Authenticated,
			Permissions:   append([]schema.Permission(nil), sess.Permissions...),
			Host:          sess.Host,
		},
		Worker: c.id,
		Remote: c.remote,
		Line:   line,
	}
	dispatcher := c.srv.cfg.Dispatcher
	err := c.exec.Submit(func(ctx context.Context) <-chan struct{} {
		return dispatcher.Dispatch(ctx, req)
	})
	if errors.Is(err, schema.ErrChannelBusy) {
		c.log.Debug("console command rejected", "session", sess.ID, "reason", "busy")
	}
	return err
}

// teardown stops the executor so no queued command starts, then
// force-completes the open frame so locks and watchdogs are released.
func (c *connection) teardown() {
	c.exec.Stop()
	if frame := c.channel.Frame(); frame > 0 && c.channel.FailFrame(frame, ErrDisconnected) {
		c.log.Debug("console frame closed on disconnect", "frame", frame)
	}
	c.close()
	c.mu.Lock()
	sid := c.sess.ID
	c.mu.Unlock()
	c.srv.events.OnConnectionEvent(schema.ConnectionEvent{Phase: schema.ConnectionClosed, ConnID: c.id, Remote: c.remote, SessionID: sid, At: time.Now()})
	c.log.Debug("console connection closed", "session", sid)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}
