// Package consoleserver accepts console connections and drives one channel
// per connection through the dispatch engine.
package consoleserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/core"
	"pkt.systems/rshell/internal/acl"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/internal/wire"
	"pkt.systems/rshell/schema"
)

// DefaultMaxClients bounds concurrent connections when Config leaves it unset.
const DefaultMaxClients = 3

// DefaultWriteTimeout bounds a single signal write to a slow client.
const DefaultWriteTimeout = 30 * time.Second

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("console server closed")

// SignalObserver counts signals by kind and direction ("in" or "out").
type SignalObserver interface {
	Signal(kind schema.SignalKind, direction string)
}

// Config wires a Server.
type Config struct {
	AppName       string
	ServerVersion string
	Dispatcher    *core.Dispatcher
	Sessions      *session.Store
	// ACL may be nil, which disables login.
	ACL             *acl.ACL
	Events          core.EventSink
	Signals         SignalObserver
	MaxClients      int
	MaxMessageBytes int
	WriteTimeout    time.Duration
	Logger          pslog.Logger
}

// Server is the console listener.
type Server struct {
	cfg    Config
	events core.EventSink
	log    pslog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*connection]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("console server requires a dispatcher")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("console server requires a session store")
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = wire.DefaultMaxMessageBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.Ctx(context.Background())
	}
	events := cfg.Events
	if events == nil {
		events = core.NopSink()
	}
	return &Server{
		cfg:    cfg,
		events: events,
		log:    cfg.Logger,
		conns:  make(map[*connection]struct{}),
	}, nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled or Close
// is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil when ctx is cancelled and
// ErrServerClosed after Close.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info("console server listening", "addr", ln.Addr().String(), "app", s.cfg.AppName, "max_clients", s.cfg.MaxClients)
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.log.Error("console accept failed", "err", err)
			s.shutdown()
			return err
		}
		c, ok := s.admit(ctx, nc)
		if !ok {
			continue
		}
		go c.serve()
	}
}

// admit enforces the max clients limit. Rejected sockets are closed with no
// handshake.
func (s *Server) admit(ctx context.Context, nc net.Conn) (*connection, bool) {
	remote := nc.RemoteAddr().String()
	s.mu.Lock()
	if s.closed || len(s.conns) >= s.cfg.MaxClients {
		active := len(s.conns)
		s.mu.Unlock()
		_ = nc.Close()
		s.log.Warn("console connection rejected", "remote", remote, "active", active, "max_clients", s.cfg.MaxClients)
		s.events.OnConnectionEvent(schema.ConnectionEvent{Phase: schema.ConnectionRejected, Remote: remote, At: time.Now()})
		return nil, false
	}
	c := newConnection(ctx, s, nc)
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	return c, true
}

func (s *Server) release(c *connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Addr returns the listen address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Active returns the number of open connections.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, disconnects every client, and waits for their
// workers to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	s.log.Info("console server stopped", "app", s.cfg.AppName)
}
