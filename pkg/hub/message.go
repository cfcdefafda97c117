// Package hub fans dashboard events out to websocket clients using a
// single goroutine that owns the client set.
package hub

import (
	"encoding/json"
	"time"
)

// Message is one encoded Event queued for every client as a text frame.
type Message struct {
	Data []byte
}

// Event is the JSON envelope published to dashboard clients.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Event types published by the voicebox.
const (
	EventState       = "state"
	EventRecording   = "recording"
	EventDispatched  = "dispatched"
	EventDiscarded   = "discarded"
	EventTranscript  = "transcript"
	EventReply       = "reply"
	EventError       = "error"
	EventTurn        = "turn"
	EventSpeaking    = "speaking"
	EventFlushFailed = "flush_failed"
)

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Time: time.Now(), Data: data}
}

func (e Event) encode() (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
