package schema

import "time"

// CommandPhase is the lifecycle point a CommandEvent reports.
type CommandPhase string

const (
	// CommandStarted is emitted when a frame opens.
	CommandStarted CommandPhase = "started"
	// CommandCompleted is emitted when a frame closes on any path.
	CommandCompleted CommandPhase = "completed"
)

// Command outcomes carried by completed events.
const (
	OutcomeOK          = "ok"
	OutcomeInterrupted = "interrupted"
)

// CommandEvent describes one command frame.
type CommandEvent struct {
	Phase     CommandPhase
	SessionID SessionID
	Username  Username
	Remote    string
	Command   string
	Line      string
	Frame     uint64
	// Outcome is OutcomeOK, OutcomeInterrupted, or the failure's ErrorCode.
	Outcome  string
	Duration time.Duration
	At       time.Time
}

// ConnectionPhase is the lifecycle point a ConnectionEvent reports.
type ConnectionPhase string

const (
	ConnectionOpened   ConnectionPhase = "opened"
	ConnectionClosed   ConnectionPhase = "closed"
	ConnectionRejected ConnectionPhase = "rejected"
)

// ConnectionEvent describes a console connection.
type ConnectionEvent struct {
	Phase     ConnectionPhase
	ConnID    string
	Remote    string
	SessionID SessionID
	At        time.Time
}

// LoginEvent describes a login attempt.
type LoginEvent struct {
	SessionID     SessionID
	Username      Username
	Remote        string
	Authenticated bool
	At            time.Time
}
