// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import (
	"encoding/json"
	"time"
)

// Event is one JSON frame pushed to every dashboard client.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Message is an encoded frame ready to be written to clients.
type Message []byte

// Encode renders an event as a Message.
func Encode(e Event) (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return Message(data), nil
}
