// Package bus carries lifecycle and result events to the rest of the device.
package bus

import "time"

const (
	EventWakeWord  = "recognizer_loop:wakeword"
	EventUtterance = "recognizer_loop:utterance"
	EventIOError   = "recognizer_loop:ioerror"
	EventSpeak     = "speak"
	EventSleep     = "recognizer_loop:sleep"
	EventAwoken    = "recognizer_loop:awoken"
)

// Publisher is all the listener needs from a bus. Publishing does not wait for
// subscribers.
type Publisher interface {
	Publish(event string, data map[string]any) error
}

// Message is the wire form shared by every bus backend.
type Message struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`

	// Timestamp is local bookkeeping and not sent.
	Timestamp time.Time `json:"-"`
}

func NewMessage(event string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}

	return Message{
		Type:      event,
		Data:      data,
		Timestamp: time.Now(),
	}
}
