// Package client speaks the console protocol: it dials a server, performs
// the Meta handshake, logs in, and runs commands frame by frame.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/internal/portrange"
	"pkt.systems/rshell/internal/wire"
	"pkt.systems/rshell/schema"
)

// DefaultDialTimeout bounds connection setup and the handshake.
const DefaultDialTimeout = 5 * time.Second

var (
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("console connection closed")
	// ErrNoFrame indicates the server answered a command without opening a
	// frame, for example because another command is still queued.
	ErrNoFrame = errors.New("command was not started")
)

// Config describes how to reach a console.
type Config struct {
	// Addr is host:port. When empty the port is derived from AppName and
	// Range on Host.
	Addr    string
	Host    string
	AppName string
	Range   portrange.Range
	// SessionID resumes an existing session.
	SessionID       schema.SessionID
	DialTimeout     time.Duration
	MaxMessageBytes int
	Logger          pslog.Logger
}

// Address resolves the dial address of cfg.
func (cfg Config) Address() (string, error) {
	if cfg.Addr != "" {
		return cfg.Addr, nil
	}
	r := cfg.Range
	if r == (portrange.Range{}) {
		r = portrange.Default()
	}
	port, err := portrange.Port(cfg.AppName, r)
	if err != nil {
		return "", err
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Client is one console connection. Exec, Login, and Meta calls must not
// overlap; Interrupt and AckInterrupt may be called while Exec runs.
type Client struct {
	conn    *wire.Conn
	log     pslog.Logger
	signals chan schema.Signal
	closed  chan struct{}

	mu   sync.Mutex
	sid  schema.SessionID
	meta schema.MetaPayload
	err  error

	closeOnce sync.Once
}

// Dial connects and completes the Meta handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	dialer := net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial console %s: %w", addr, err)
	}
	c := New(nc, cfg.MaxMessageBytes, logger.With("addr", addr))
	c.sid = cfg.SessionID
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := c.Handshake(hctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established stream. Call Handshake before anything else.
func New(nc net.Conn, maxMessageBytes int, logger pslog.Logger) *Client {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	c := &Client{
		conn:    wire.NewConn(nc, wire.WithMaxMessageBytes(maxMessageBytes)),
		log:     logger,
		signals: make(chan schema.Signal, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.signals)
	for {
		sig, err := c.conn.ReadSignal()
		if err != nil {
			c.mu.Lock()
			if wire.IsDisconnect(err) {
				c.err = ErrClosed
			} else {
				c.err = err
			}
			c.mu.Unlock()
			c.log.Debug("console client read stopped", "err", err)
			return
		}
		c.log.Trace("console client signal", "kind", sig.Kind)
		if sig.SessionID != "" {
			c.mu.Lock()
			c.sid = sig.SessionID
			c.mu.Unlock()
		}
		select {
		case c.signals <- sig:
		case <-c.closed:
			c.mu.Lock()
			c.err = ErrClosed
			c.mu.Unlock()
			return
		}
	}
}

// SessionID returns the id assigned by the server.
func (c *Client) SessionID() schema.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Meta returns the handshake reply.
func (c *Client) Meta() schema.MetaPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

func (c *Client) send(kind schema.SignalKind, payload any) error {
	return c.conn.Send(kind, c.SessionID(), payload)
}

// next waits for the next signal.
func (c *Client) next(ctx context.Context) (schema.Signal, error) {
	select {
	case sig, ok := <-c.signals:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return schema.Signal{}, err
		}
		return sig, nil
	case <-ctx.Done():
		return schema.Signal{}, ctx.Err()
	}
}

// Handshake sends Meta and stores the reply.
func (c *Client) Handshake(ctx context.Context) (schema.MetaPayload, error) {
	if err := c.send(schema.KindMeta, nil); err != nil {
		return schema.MetaPayload{}, err
	}
	sig, err := c.await(ctx, schema.KindMeta)
	if err != nil {
		return schema.MetaPayload{}, fmt.Errorf("console handshake: %w", err)
	}
	var meta schema.MetaPayload
	if err := sig.Decode(&meta); err != nil {
		return schema.MetaPayload{}, err
	}
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
	return meta, nil
}

// await returns the next signal of kind. A Stderr in its place becomes a
// *RemoteError.
func (c *Client) await(ctx context.Context, kind schema.SignalKind) (schema.Signal, error) {
	for {
		sig, err := c.next(ctx)
		if err != nil {
			return schema.Signal{}, err
		}
		switch sig.Kind {
		case kind:
			return sig, nil
		case schema.KindStderr:
			return schema.Signal{}, remoteError(sig)
		default:
			c.log.Debug("console client skipped signal", "kind", sig.Kind, "want", kind)
		}
	}
}

// Login sends credentials and returns the server's verdict.
func (c *Client) Login(ctx context.Context, username, password, totp string) (schema.LoginPayload, error) {
	if err := c.send(schema.KindPreLogin, schema.PreLoginPayload{Username: username, Password: password, TOTP: totp}); err != nil {
		return schema.LoginPayload{}, err
	}
	sig, err := c.await(ctx, schema.KindLogin)
	if err != nil {
		return schema.LoginPayload{}, err
	}
	var reply schema.LoginPayload
	return reply, sig.Decode(&reply)
}

// Interrupt asks the server to interrupt the running command. The server
// replies with AskInterrupt inside the current Exec.
func (c *Client) Interrupt() error {
	return c.send(schema.KindPreInterrupt, nil)
}

// AckInterrupt answers an AskInterrupt.
func (c *Client) AckInterrupt(confirmed bool) error {
	return c.send(schema.KindAckInterrupt, schema.AckInterruptPayload{Confirmed: confirmed})
}

// Close drops the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
