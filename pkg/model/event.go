package model

import "encoding/json"

// EventKind tags records published to the durable-storage topic.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindDM      EventKind = "dm"
)

// StoredEvent is the envelope written to Kafka by the gateway and consumed
// by the messaging service. Exactly one of Message/DM is set, per Kind.
type StoredEvent struct {
	Kind    EventKind      `json:"kind"`
	Message *ChatMessage   `json:"message,omitempty"`
	DM      *DirectMessage `json:"dm,omitempty"`
}

// NewMessageEvent wraps a public-room message for publication.
func NewMessageEvent(m ChatMessage) StoredEvent {
	return StoredEvent{Kind: KindMessage, Message: &m}
}

// NewDMEvent wraps a direct message for publication.
func NewDMEvent(d DirectMessage) StoredEvent {
	return StoredEvent{Kind: KindDM, DM: &d}
}

// Encode marshals the event for the wire. Marshal of these types cannot
// fail, so the error is folded away at call sites via this helper.
func (e StoredEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
