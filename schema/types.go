package schema

import "time"

// SessionID identifies a console session independent of any connection.
type SessionID string

// Username identifies an ACL user.
type Username string

// Permission names a grant required by, or held for, a command.
type Permission string

// ChannelState is the lifecycle state of the command in flight on a connection.
type ChannelState int

const (
	// ChannelNew means no command has started on the current frame.
	ChannelNew ChannelState = iota
	// ChannelRunning means a frame is open and the command is executing.
	ChannelRunning
	// ChannelInterrupted means an interrupt was acknowledged while running.
	ChannelInterrupted
	// ChannelCompleted means the frame was closed.
	ChannelCompleted
)

func (s ChannelState) String() string {
	switch s {
	case ChannelNew:
		return "new"
	case ChannelRunning:
		return "running"
	case ChannelInterrupted:
		return "interrupted"
	case ChannelCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Open reports whether a frame is open, including while interrupted.
func (s ChannelState) Open() bool {
	return s == ChannelRunning || s == ChannelInterrupted
}

// Session is the persisted identity and auth record of one client.
type Session struct {
	ID              SessionID    `json:"id"`
	Username        Username     `json:"username,omitempty"`
	Authenticated   bool         `json:"authenticated"`
	Permissions     []Permission `json:"permissions,omitempty"`
	Host            string       `json:"host,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActivityAt  time.Time    `json:"last_activity_at"`
	AuthenticatedAt time.Time    `json:"authenticated_at,omitzero"`
}

// HasPermission reports whether any of the required permissions is granted.
// An empty requirement is always satisfied.
func (s Session) HasPermission(required []Permission) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range s.Permissions {
			if want == have {
				return true
			}
		}
	}
	return false
}
