package schema

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the envelope version spoken by this module.
const ProtocolVersion = 1

// SignalKind tags the payload carried by a Signal.
type SignalKind string

const (
	KindStdin        SignalKind = "stdin"
	KindStdout       SignalKind = "stdout"
	KindStderr       SignalKind = "stderr"
	KindBeginOfFrame SignalKind = "begin_of_frame"
	KindEndOfFrame   SignalKind = "end_of_frame"
	KindMeta         SignalKind = "meta"
	KindPreLogin     SignalKind = "pre_login"
	KindLogin        SignalKind = "login"
	KindPreInterrupt SignalKind = "pre_interrupt"
	KindAskInterrupt SignalKind = "ask_interrupt"
	KindAckInterrupt SignalKind = "ack_interrupt"
	KindProgress     SignalKind = "progress"
)

// Known reports whether the kind is part of the protocol.
func (k SignalKind) Known() bool {
	switch k {
	case KindStdin, KindStdout, KindStderr, KindBeginOfFrame, KindEndOfFrame,
		KindMeta, KindPreLogin, KindLogin, KindPreInterrupt, KindAskInterrupt,
		KindAckInterrupt, KindProgress:
		return true
	default:
		return false
	}
}

// ClientOriginated reports whether a client may send this kind.
func (k SignalKind) ClientOriginated() bool {
	switch k {
	case KindStdin, KindMeta, KindPreLogin, KindPreInterrupt, KindAckInterrupt:
		return true
	default:
		return false
	}
}

// Signal is the wire envelope for every message in either direction.
type Signal struct {
	Kind      SignalKind      `json:"kind"`
	Version   int             `json:"version"`
	SessionID SessionID       `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewSignal builds an envelope around payload. A nil payload yields an empty body.
func NewSignal(kind SignalKind, sessionID SessionID, payload any) (Signal, error) {
	sig := Signal{Kind: kind, Version: ProtocolVersion, SessionID: sessionID}
	if payload == nil {
		return sig, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Signal{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	sig.Payload = data
	return sig, nil
}

// Decode unmarshals the payload into dst. An empty payload leaves dst untouched.
func (s Signal) Decode(dst any) error {
	if len(s.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrProtocol, s.Kind, err)
	}
	return nil
}

// StdinPayload carries one raw command line.
type StdinPayload struct {
	Line string `json:"line"`
}

// StdoutPayload carries command output text.
type StdoutPayload struct {
	Text string `json:"text"`
}

// StderrPayload carries a user-facing error.
type StderrPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
}

// BeginOfFramePayload opens the output frame of one command.
type BeginOfFramePayload struct {
	Command string `json:"command,omitempty"`
	Frame   uint64 `json:"frame"`
}

// EndOfFramePayload closes the output frame of one command.
type EndOfFramePayload struct {
	Frame uint64 `json:"frame"`
}

// MetaPayload is the server's reply to the connect handshake.
type MetaPayload struct {
	AppName       string        `json:"app_name,omitempty"`
	ServerVersion string        `json:"server_version,omitempty"`
	ACLEnabled    bool          `json:"acl_enabled"`
	Commands      []CommandMeta `json:"commands,omitempty"`
}

// PreLoginPayload carries credentials.
type PreLoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// LoginPayload reports the login result.
type LoginPayload struct {
	Authenticated bool   `json:"authenticated"`
	Description   string `json:"description"`
}

// AskInterruptPayload asks the client to confirm an interrupt.
type AskInterruptPayload struct {
	Subject string `json:"subject"`
}

// AckInterruptPayload carries the client's confirmation.
type AckInterruptPayload struct {
	Confirmed bool `json:"confirmed"`
}

// ProgressPayload reports completed units out of whole.
type ProgressPayload struct {
	Title    string `json:"title,omitempty"`
	Whole    int    `json:"whole"`
	Progress int    `json:"progress"`
}

// Fraction returns progress/whole in [0,1].
func (p ProgressPayload) Fraction() float64 {
	if p.Whole <= 0 {
		return 0
	}
	f := float64(p.Progress) / float64(p.Whole)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// Login descriptions.
const (
	LoginAlreadyAuthenticated = "Authenticated."
	LoginSuccess              = "Authentication success."
	LoginFailure              = "Authentication failure."
	LoginNotRequired          = "No authentication required."
)

// InterruptSubject is the confirmation question sent in AskInterrupt.
const InterruptSubject = "Are you sure you want to cancel execution? (y|n)"
