package schema

import "errors"

var (
	// ErrProtocol indicates a malformed or unexpected signal. The connection is closed.
	ErrProtocol = errors.New("protocol error")
	// ErrMissingSessionID indicates a non-meta signal without a session id.
	ErrMissingSessionID = errors.New("missing session id")
	// ErrMessageTooLarge indicates a signal exceeded the configured size limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrUnauthenticated indicates the session must log in first.
	ErrUnauthenticated = errors.New("authentication required, please login first")
	// ErrUnauthorized indicates the session lacks the command's permissions.
	ErrUnauthorized = errors.New("permission denied")
	// ErrCommandNotFound indicates no command is registered under the name.
	ErrCommandNotFound = errors.New("command not found")
	// ErrEmptyLine indicates an empty command line.
	ErrEmptyLine = errors.New("empty command line")
	// ErrChannelBusy indicates the connection already has a command queued.
	ErrChannelBusy = errors.New("a command is already running, try again later")
	// ErrChannelCompleted indicates output was attempted after the frame closed.
	ErrChannelCompleted = errors.New("channel already completed")
	// ErrInterruptNotSupported indicates the running command is not interruptible.
	ErrInterruptNotSupported = errors.New("interrupt not supported by this command")
	// ErrNoRunningCommand indicates an interrupt was requested with nothing running.
	ErrNoRunningCommand = errors.New("no running command")
	// ErrLockTimeout indicates the command lock is held elsewhere.
	ErrLockTimeout = errors.New("command is locked by another holder, try again later")
	// ErrCommandTimeout indicates the frame was force completed by the watchdog.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrRegistrySealed indicates registration after the server started.
	ErrRegistrySealed = errors.New("command registry is sealed")
	// ErrInvalidPortRange indicates a port range outside 1024 < begin < end < 65535.
	ErrInvalidPortRange = errors.New("invalid port range")
)

// ErrorCode classifies a user-facing error on the wire.
type ErrorCode string

const (
	CodeProtocol             ErrorCode = "protocol"
	CodeBinding              ErrorCode = "binding"
	CodeUnauthenticated      ErrorCode = "unauthenticated"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeNotFound             ErrorCode = "not_found"
	CodeExecution            ErrorCode = "execution"
	CodeLockTimeout          ErrorCode = "lock_timeout"
	CodeBusy                 ErrorCode = "busy"
	CodeInterruptUnsupported ErrorCode = "interrupt_unsupported"
	CodeNoCommand            ErrorCode = "no_command"
	CodeTimeout              ErrorCode = "timeout"
)

// CodedError lets other packages attach a code to their own error types.
type CodedError interface {
	error
	ErrorCode() ErrorCode
}

// CodeOf maps an error chain to its wire code. Unknown errors are execution errors.
func CodeOf(err error) ErrorCode {
	var coded CodedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &coded):
		return coded.ErrorCode()
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrMissingSessionID), errors.Is(err, ErrMessageTooLarge):
		return CodeProtocol
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrCommandNotFound), errors.Is(err, ErrEmptyLine):
		return CodeNotFound
	case errors.Is(err, ErrChannelBusy):
		return CodeBusy
	case errors.Is(err, ErrInterruptNotSupported):
		return CodeInterruptUnsupported
	case errors.Is(err, ErrNoRunningCommand):
		return CodeNoCommand
	case errors.Is(err, ErrLockTimeout):
		return CodeLockTimeout
	case errors.Is(err, ErrCommandTimeout):
		return CodeTimeout
	default:
		return CodeExecution
	}
}
