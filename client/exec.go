package client

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/rshell/schema"
)

// RemoteError is a Stderr reported by the server.
type RemoteError struct {
	Message string
	Code    schema.ErrorCode
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// ErrorCode implements schema.CodedError.
func (e *RemoteError) ErrorCode() schema.ErrorCode { return e.Code }

func remoteError(sig schema.Signal) error {
	var p schema.StderrPayload
	if err := sig.Decode(&p); err != nil {
		return err
	}
	return &RemoteError{Message: p.Message, Code: p.Code}
}

// Handler observes a frame as it streams. Any field may be nil.
type Handler struct {
	Stdout   func(text string)
	Stderr   func(p schema.StderrPayload)
	Progress func(p schema.ProgressPayload)
	// AskInterrupt must answer through AckInterrupt; when nil the interrupt
	// is confirmed.
	AskInterrupt func(subject string)
}

// Frame is the collected result of one command.
type Frame struct {
	Number  uint64
	Command string
	Stdout  string
	Errors  []schema.StderrPayload
	// Progress is the last progress report, if any.
	Progress *schema.ProgressPayload
}

// Err returns the first coded error of the frame, or nil.
func (f Frame) Err() error {
	for _, e := range f.Errors {
		if e.Code != "" {
			return &RemoteError{Message: e.Message, Code: e.Code}
		}
	}
	return nil
}

// Exec runs line and blocks until its end of frame. Transport failures and
// commands the server refused to start are returned as errors; command
// failures are in Frame.Errors.
func (c *Client) Exec(ctx context.Context, line string, h Handler) (Frame, error) {
	if err := c.send(schema.KindStdin, schema.StdinPayload{Line: line}); err != nil {
		return Frame{}, err
	}
	var frame Frame
	var out strings.Builder
	opened := false
	for {
		sig, err := c.next(ctx)
		if err != nil {
			return frame, err
		}
		switch sig.Kind {
		case schema.KindBeginOfFrame:
			var p schema.BeginOfFramePayload
			if err := sig.Decode(&p); err != nil {
				return frame, err
			}
			opened = true
			frame.Number, frame.Command = p.Frame, p.Command
		case schema.KindStdout:
			var p schema.StdoutPayload
			if err := sig.Decode(&p); err != nil {
				return frame, err
			}
			out.WriteString(p.Text)
			if h.Stdout != nil {
				h.Stdout(p.Text)
			}
		case schema.KindStderr:
			var p schema.StderrPayload
			if err := sig.Decode(&p); err != nil {
				return frame, err
			}
			if !opened && (p.Code == schema.CodeNoCommand || p.Code == schema.CodeInterruptUnsupported) {
				c.log.Debug("console client late interrupt reply", "code", p.Code)
				continue
			}
			if !opened {
				return frame, fmt.Errorf("%w: %w", ErrNoFrame, &RemoteError{Message: p.Message, Code: p.Code})
			}
			frame.Errors = append(frame.Errors, p)
			if h.Stderr != nil {
				h.Stderr(p)
			}
		case schema.KindProgress:
			var p schema.ProgressPayload
			if err := sig.Decode(&p); err != nil {
				return frame, err
			}
			frame.Progress = &p
			if h.Progress != nil {
				h.Progress(p)
			}
		case schema.KindAskInterrupt:
			var p schema.AskInterruptPayload
			if err := sig.Decode(&p); err != nil {
				return frame, err
			}
			if h.AskInterrupt != nil {
				h.AskInterrupt(p.Subject)
			} else if err := c.AckInterrupt(true); err != nil {
				return frame, err
			}
		case schema.KindEndOfFrame:
			frame.Stdout = out.String()
			return frame, nil
		default:
			c.log.Debug("console client skipped signal", "kind", sig.Kind)
		}
	}
}
