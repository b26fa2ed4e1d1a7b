// Package live carries a duplex voice session with the Gemini Live service.
// Inbound traffic is surfaced as a stream of tagged events; outbound traffic
// is realtime audio frames and tool responses.
package live

import (
	"context"
	"errors"

	"github.com/christian-lee/tutorvoice/internal/transcript"
)

// ErrTransport wraps every failure of the underlying connection.
var ErrTransport = errors.New("transport error")

// Event is one inbound server signal. The concrete types are the only
// implementations.
type Event interface {
	event()
}

// ToolCall asks the client to run one or more functions.
type ToolCall struct {
	Calls []FunctionCall
}

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// TranscriptDelta is a fragment of input (user) or output (model) transcription.
type TranscriptDelta struct {
	Role transcript.Role
	Text string
}

// TurnComplete marks the end of a model turn.
type TurnComplete struct{}

// Interrupted reports that the user barged in over model speech.
type Interrupted struct{}

// Audio is a chunk of model speech as little-endian 16-bit PCM.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Closed is the last event on a connection. Err is nil when the client
// closed it.
type Closed struct {
	Err error
}

func (ToolCall) event()        {}
func (TranscriptDelta) event() {}
func (TurnComplete) event()    {}
func (Interrupted) event()     {}
func (Audio) event()           {}
func (Closed) event()          {}

// ToolResponse acknowledges one FunctionCall.
type ToolResponse struct {
	ID     string
	Name   string
	Result string
}

// Param is a required-or-optional string parameter, optionally restricted to
// an enum.
type Param struct {
	Name        string
	Description string
	Enum        []string
	Required    bool
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// SessionConfig is sent when the session opens.
type SessionConfig struct {
	Model       string
	Voice       string
	Instruction string
	Tools       []Tool
}

// Dialer opens sessions. Dial returns once the service has accepted the
// session configuration.
type Dialer interface {
	Dial(ctx context.Context, apiKey string, cfg SessionConfig) (Conn, error)
}

// Conn is an open session. Events is closed after the Closed event.
// Sends are safe for concurrent use.
type Conn interface {
	Events() <-chan Event
	SendAudio(frame []byte) error
	SendToolResponse(responses ...ToolResponse) error
	Close() error
}

const eventBuffer = 64
