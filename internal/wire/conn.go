// Package wire frames schema.Signal envelopes as newline-delimited JSON.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"pkt.systems/rshell/schema"
)

// DefaultMaxMessageBytes bounds a single signal line.
const DefaultMaxMessageBytes = 1 << 20

// Conn reads and writes whole signals over a stream. Reads must come from a
// single goroutine; writes are serialized internally.
type Conn struct {
	rw       io.ReadWriteCloser
	scanner  *bufio.Scanner
	wmu      sync.Mutex
	writeTTL time.Duration
	closed   sync.Once
	closeErr error
}

// Option customizes a Conn.
type Option func(*Conn)

// WithMaxMessageBytes sets the maximum accepted line size.
func WithMaxMessageBytes(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.scanner.Buffer(make([]byte, 0, min(n, 64*1024)), n)
		}
	}
}

// WithWriteTimeout sets a per-write deadline when the stream is a net.Conn.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTTL = d }
}

// NewConn wraps rw.
func NewConn(rw io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{rw: rw, scanner: bufio.NewScanner(rw)}
	c.scanner.Buffer(make([]byte, 0, 64*1024), DefaultMaxMessageBytes)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadSignal blocks for exactly one complete signal. io.EOF reports a clean
// disconnect; errors wrapping schema.ErrProtocol report a malformed peer.
func (c *Conn) ReadSignal() (schema.Signal, error) {
	for {
		if !c.scanner.Scan() {
			err := c.scanner.Err()
			if err == nil {
				return schema.Signal{}, io.EOF
			}
			if errors.Is(err, bufio.ErrTooLong) {
				return schema.Signal{}, fmt.Errorf("%w: %w", schema.ErrProtocol, schema.ErrMessageTooLarge)
			}
			return schema.Signal{}, err
		}
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return decode(line)
	}
}

func decode(line []byte) (schema.Signal, error) {
	var sig schema.Signal
	if err := json.Unmarshal(line, &sig); err != nil {
		return schema.Signal{}, fmt.Errorf("%w: malformed envelope: %v", schema.ErrProtocol, err)
	}
	if !sig.Kind.Known() {
		return schema.Signal{}, fmt.Errorf("%w: unknown signal kind %q", schema.ErrProtocol, sig.Kind)
	}
	if sig.Version != schema.ProtocolVersion {
		return schema.Signal{}, fmt.Errorf("%w: unsupported version %d", schema.ErrProtocol, sig.Version)
	}
	return sig, nil
}

// WriteSignal encodes sig as one line.
func (c *Conn) WriteSignal(sig schema.Signal) error {
	if sig.Version == 0 {
		sig.Version = schema.ProtocolVersion
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if nc, ok := c.rw.(net.Conn); ok && c.writeTTL > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(c.writeTTL))
	}
	_, err = c.rw.Write(data)
	return err
}

// Send builds and writes a signal in one step.
func (c *Conn) Send(kind schema.SignalKind, sessionID schema.SessionID, payload any) error {
	sig, err := schema.NewSignal(kind, sessionID, payload)
	if err != nil {
		return err
	}
	return c.WriteSignal(sig)
}

// RemoteAddr returns the peer address when the stream is a net.Conn.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rw.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}

// Close closes the underlying stream once.
func (c *Conn) Close() error {
	c.closed.Do(func() { c.closeErr = c.rw.Close() })
	return c.closeErr
}

// IsDisconnect reports whether err means the peer went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
