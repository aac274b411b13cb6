package wire

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"pkt.systems/rshell/schema"
)

type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

func TestWriteThenReadSignal(t *testing.T) {
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()
	writer := NewConn(left)
	reader := NewConn(right)

	go func() {
		_ = writer.Send(schema.KindStdin, "s1", schema.StdinPayload{Line: "sum -a 5"})
	}()
	sig, err := reader.ReadSignal()
	if err != nil {
		t.Fatalf("ReadSignal: %v", err)
	}
	var p schema.StdinPayload
	if err := sig.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sig.Kind != schema.KindStdin || sig.SessionID != "s1" || p.Line != "sum -a 5" {
		t.Fatalf("unexpected signal: %+v %+v", sig, p)
	}
}

func TestReadSignalProtocolErrors(t *testing.T) {
	cases := map[string]string{
		"malformed": "{not json}\n",
		"unknown":   `{"kind":"bogus","version":1}` + "\n",
		"version":   `{"kind":"meta","version":7}` + "\n",
	}
	for name, input := range cases {
		c := NewConn(rwc{Reader: strings.NewReader(input), Writer: io.Discard})
		if _, err := c.ReadSignal(); !errors.Is(err, schema.ErrProtocol) {
			t.Fatalf("%s: expected protocol error, got %v", name, err)
		}
	}
}

func TestReadSignalSkipsBlankLinesAndReportsEOF(t *testing.T) {
	input := "\n" + `{"kind":"meta","version":1}` + "\n"
	c := NewConn(rwc{Reader: strings.NewReader(input), Writer: io.Discard})
	sig, err := c.ReadSignal()
	if err != nil || sig.Kind != schema.KindMeta {
		t.Fatalf("unexpected read: %+v %v", sig, err)
	}
	if _, err := c.ReadSignal(); !errors.Is(err, io.EOF) || !IsDisconnect(err) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadSignalTooLarge(t *testing.T) {
	input := `{"kind":"stdin","version":1,"payload":{"line":"` + strings.Repeat("x", 256) + `"}}` + "\n"
	c := NewConn(rwc{Reader: strings.NewReader(input), Writer: io.Discard}, WithMaxMessageBytes(64))
	_, err := c.ReadSignal()
	if !errors.Is(err, schema.ErrProtocol) || !errors.Is(err, schema.ErrMessageTooLarge) {
		t.Fatalf("expected too large protocol error, got %v", err)
	}
}
