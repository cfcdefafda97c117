// Package dispatch connects the session state machine and the conversation
// worker with two independent, ordered, unbounded channels.
//
// The control channel carries ControlMessage values from the state machine
// to the worker. The response channel carries transcripts (or "Error: ..."
// strings) back; the state machine polls it without blocking.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned when sending on a closed queue, or receiving from a
// closed queue that has been drained.
var ErrClosed = errors.New("dispatch: queue closed")

// ErrorPrefix marks a response that reports a failure instead of a transcript.
const ErrorPrefix = "Error: "

// Kind identifies a control message.
type Kind int

const (
	// TranscribeFile asks the worker to transcribe a finished recording.
	TranscribeFile Kind = iota
	// RestartSession asks the worker to reset the conversation context.
	RestartSession
	// Shutdown stops the worker loop.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case TranscribeFile:
		return "transcribe_file"
	case RestartSession:
		return "restart_session"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ControlMessage is sent from the state machine to the worker.
type ControlMessage struct {
	Kind Kind
	// Path is set for TranscribeFile.
	Path string
}

// NewTranscribeFile builds a TranscribeFile message for path.
func NewTranscribeFile(path string) ControlMessage {
	return ControlMessage{Kind: TranscribeFile, Path: path}
}

// NewRestartSession builds a RestartSession message.
func NewRestartSession() ControlMessage {
	return ControlMessage{Kind: RestartSession}
}

// NewShutdown builds a Shutdown message.
func NewShutdown() ControlMessage {
	return ControlMessage{Kind: Shutdown}
}

func (m ControlMessage) String() string {
	if m.Kind == TranscribeFile {
		return fmt.Sprintf("%s(%s)", m.Kind, m.Path)
	}
	return m.Kind.String()
}

// ErrorResponse formats err as a response string.
func ErrorResponse(err error) string {
	return ErrorPrefix + err.Error()
}

// IsError reports whether resp is an error response.
func IsError(resp string) bool {
	return strings.HasPrefix(resp, ErrorPrefix)
}

// Bus bundles the two channels.
type Bus struct {
	Control  *Queue[ControlMessage]
	Response *Queue[string]
}

// NewBus creates a bus with two empty queues.
func NewBus() *Bus {
	return &Bus{
		Control:  NewQueue[ControlMessage](),
		Response: NewQueue[string](),
	}
}

// Close closes both channels.
func (b *Bus) Close() {
	b.Control.Close()
	b.Response.Close()
}
