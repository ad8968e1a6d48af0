package wire

import (
	"fmt"
	"strings"

	"github.com/overlaynet/overlaynet/internal/errs"
)

// ControlKind identifies which control command a ControlMsg carries.
type ControlKind int

// The three control commands flowing hop-by-hop between nodes.
const (
	ControlStartStream ControlKind = iota
	ControlStopStream
	ControlHeartbeat
)

func (k ControlKind) String() string {
	switch k {
	case ControlStartStream:
		return "START_STREAM"
	case ControlStopStream:
		return "STOP_STREAM"
	case ControlHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// ControlMsg is a parsed control-plane command.
type ControlMsg struct {
	Kind  ControlKind
	Video string // set for StartStream / StopStream
}

// EncodeControl serializes a ControlMsg to its ASCII wire form:
// "START_STREAM <video>", "STOP_STREAM <video>", or "HEARTBEAT".
func EncodeControl(m ControlMsg) string {
	switch m.Kind {
	case ControlStartStream, ControlStopStream:
		return m.Kind.String() + " " + m.Video
	default:
		return ControlHeartbeat.String()
	}
}

// ParseControl parses the ASCII wire form of a control command. Unknown
// commands or a missing video argument on START_STREAM/STOP_STREAM
// return an error; the caller's error-handling policy is to ignore and
// close the connection, never to propagate a malformed command further.
func ParseControl(payload string) (ControlMsg, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ControlMsg{}, &errs.ParseError{Field: "command", Err: fmt.Errorf("empty")}
	}

	if payload == ControlHeartbeat.String() {
		return ControlMsg{Kind: ControlHeartbeat}, nil
	}

	for _, kind := range []ControlKind{ControlStartStream, ControlStopStream} {
		prefix := kind.String() + " "
		if strings.HasPrefix(payload, prefix) {
			video := strings.TrimSpace(payload[len(prefix):])
			if video == "" {
				return ControlMsg{}, &errs.ParseError{Field: "video", Err: fmt.Errorf("missing video name")}
			}
			return ControlMsg{Kind: kind, Video: video}, nil
		}
	}

	return ControlMsg{}, &errs.ParseError{Field: "command", Err: fmt.Errorf("unrecognized command %q", payload)}
}
