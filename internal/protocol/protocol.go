package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned by Conn operations after Close
var ErrClosed = errors.New("session closed")

// Dialer opens sessions with the conversational service
type Dialer interface {
	// Validate reports configuration problems without touching the network
	Validate() error
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open duplex session. SendAudio and SendToolResponses may be
// called concurrently with each other and with Receive.
type Conn interface {
	SendAudio(frame []byte) error
	SendToolResponses(responses []FunctionResponse) error
	// Receive blocks until the next server message. It returns an error
	// once the session ends, including after Close.
	Receive() (*ServerMessage, error)
	Close() error
}

// FunctionCall is a tool invocation requested by the service
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse answers exactly one FunctionCall
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// GoAway announces that the service will close the session soon
type GoAway struct {
	TimeLeft time.Duration
}

// ServerMessage is one inbound message. Every field is optional.
type ServerMessage struct {
	Audio        [][]byte // raw 16-bit PCM chunks in arrival order
	InputText    string   // user speech transcription fragment
	OutputText   string   // model speech transcription fragment
	TurnComplete bool
	Interrupted  bool
	ToolCalls    []FunctionCall
	GoAway       *GoAway
}

// Empty reports whether the message carries nothing actionable
func (m *ServerMessage) Empty() bool {
	return m == nil || (len(m.Audio) == 0 && m.InputText == "" && m.OutputText == "" &&
		!m.TurnComplete && !m.Interrupted && len(m.ToolCalls) == 0 && m.GoAway == nil)
}

// String returns a compact summary for logging
func (m *ServerMessage) String() string {
	if m == nil {
		return "ServerMessage{}"
	}
	var parts []string
	if n := len(m.Audio); n > 0 {
		bytes := 0
		for _, a := range m.Audio {
			bytes += len(a)
		}
		parts = append(parts, fmt.Sprintf("audio=%d/%dB", n, bytes))
	}
	if m.InputText != "" {
		parts = append(parts, fmt.Sprintf("input=%q", m.InputText))
	}
	if m.OutputText != "" {
		parts = append(parts, fmt.Sprintf("output=%q", m.OutputText))
	}
	if m.TurnComplete {
		parts = append(parts, "turnComplete")
	}
	if m.Interrupted {
		parts = append(parts, "interrupted")
	}
	if n := len(m.ToolCalls); n > 0 {
		names := make([]string, n)
		for i, c := range m.ToolCalls {
			names[i] = c.Name
		}
		parts = append(parts, "toolCalls="+strings.Join(names, ","))
	}
	if m.GoAway != nil {
		parts = append(parts, fmt.Sprintf("goAway=%v", m.GoAway.TimeLeft))
	}
	return "ServerMessage{" + strings.Join(parts, " ") + "}"
}

// ValidateResponses checks that responses answer calls one-to-one and in order
func ValidateResponses(calls []FunctionCall, responses []FunctionResponse) error {
	if len(calls) != len(responses) {
		return fmt.Errorf("response count mismatch: %d calls, %d responses", len(calls), len(responses))
	}
	for i := range calls {
		if calls[i].ID != responses[i].ID {
			return fmt.Errorf("response %d id mismatch: expected %q, got %q", i, calls[i].ID, responses[i].ID)
		}
		if calls[i].Name != responses[i].Name {
			return fmt.Errorf("response %d name mismatch: expected %q, got %q", i, calls[i].Name, responses[i].Name)
		}
		if responses[i].Response == nil {
			return fmt.Errorf("response %d (%s) has no payload", i, responses[i].ID)
		}
	}
	return nil
}

// Well-known service status codes
const (
	StatusUnavailable      = 503
	StatusTooManyRequests  = 429
	StatusUnauthenticated  = 401
	StatusPermissionDenied = 403
	StatusInvalidArgument  = 400
	StatusNotFound         = 404
	StatusInternal         = 500
	StatusGatewayTimeout   = 504
	statusNameUnavailable  = "UNAVAILABLE"
	statusNameExhausted    = "RESOURCE_EXHAUSTED"
	statusNameUnauthorized = "UNAUTHENTICATED"
	statusNameDeadline     = "DEADLINE_EXCEEDED"
)

// StatusError carries a status reported by the service
type StatusError struct {
	Code   int
	Status string
	Err    error
}

func (e *StatusError) Error() string {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status != "" && msg != "":
		return fmt.Sprintf("service error %d %s: %s", e.Code, e.Status, msg)
	case e.Status != "":
		return fmt.Sprintf("service error %d %s", e.Code, e.Status)
	default:
		return fmt.Sprintf("service error %d: %s", e.Code, msg)
	}
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Unavailable reports whether the service signaled temporary unavailability or throttling
func (e *StatusError) Unavailable() bool {
	switch e.Code {
	case StatusUnavailable, StatusTooManyRequests, StatusGatewayTimeout:
		return true
	}
	switch strings.ToUpper(e.Status) {
	case statusNameUnavailable, statusNameExhausted, statusNameDeadline:
		return true
	}
	return false
}

// Unauthorized reports whether the service rejected the credentials
func (e *StatusError) Unauthorized() bool {
	return e.Code == StatusUnauthenticated || e.Code == StatusPermissionDenied ||
		strings.EqualFold(e.Status, statusNameUnauthorized)
}
