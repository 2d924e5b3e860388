// Package message defines the envelope broadcast to channel subscribers and the
// content transform applied to state-carrying kinds before delivery.
package message

import (
	"encoding/json"
)

// Kind names the type of a broadcast message.
type Kind string

const (
	KindFullState   Kind = "full_state"   // Complete snapshot of the channel's state
	KindStateUpdate Kind = "state_update" // Incremental change to the channel's state
	KindEvent       Kind = "event"        // Free-form application event
	KindNotice      Kind = "notice"       // Human-readable notice
)

// transformable is the closed set of kinds whose payload is rewritten before delivery.
var transformable = map[Kind]bool{
	KindFullState:   true,
	KindStateUpdate: true,
}

// Message is the envelope published to a channel and written to every subscriber.
type Message struct {
	Type    Kind              `json:"type" validate:"required,max=64"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Meta    map[string]string `json:"meta,omitempty" validate:"omitempty,max=32"`
}

// Transformable reports whether the message kind carries a payload that must be
// passed through the content transformer.
func (m Message) Transformable() bool {
	return transformable[m.Type]
}

// Encode serializes the message for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a serialized message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Transformer rewrites a payload. It must be pure and total: implementations
// return the input unchanged when they cannot process it.
type Transformer func(payload json.RawMessage) json.RawMessage

// Identity returns the payload untouched.
func Identity(payload json.RawMessage) json.RawMessage {
	return payload
}

// Apply returns a copy of m with its payload rewritten by t when the kind is
// transformable. Other kinds are returned verbatim.
func Apply(m Message, t Transformer) Message {
	if t == nil || !m.Transformable() || len(m.Payload) == 0 {
		return m
	}
	out := m
	out.Payload = t(append(json.RawMessage(nil), m.Payload...))
	return out
}
