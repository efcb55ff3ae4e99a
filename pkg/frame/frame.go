// Package frame implements the JSON wire protocol spoken over the realtime
// websocket connections. Every frame is an envelope {"type": ..., "payload":
// ...}; inbound frames are parsed once at the boundary into a typed
// representation so the rest of the gateway never touches raw JSON.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inkwell-app/realtime/pkg/model"
)

// Frame type tags.
const (
	TypeWelcome  = "chat:welcome"
	TypeOnline   = "chat:online"
	TypeMessage  = "chat:message"
	TypeDM       = "chat:dm"
	TypeError    = "chat:error"
	TypeReady    = "ready"
	TypePresence = "presence"
)

// ErrMalformedFrame is returned for frames that are not valid JSON, carry an
// unknown type tag, or are missing their payload.
var ErrMalformedFrame = errors.New("malformed frame")

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientFrame is the tagged union of frames a client may send.
type ClientFrame interface {
	clientFrame()
}

// PostMessage is a public-room post.
type PostMessage struct {
	Text string `json:"text"`
}

// PostDM is a direct post addressed to one user.
type PostDM struct {
	ToUserID string `json:"to_user_id"`
	Text     string `json:"text"`
}

func (PostMessage) clientFrame() {}
func (PostDM) clientFrame()      {}

// ParseClient decodes one inbound client frame. Unknown or structurally
// invalid frames yield ErrMalformedFrame; they are never silently dropped.
func ParseClient(raw []byte) (ClientFrame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}
	switch env.Type {
	case TypeMessage:
		var f PostMessage
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	case TypeDM:
		var f PostDM
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
}

func encode(typ string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		// All payload types are marshal-safe structs; reaching this is a
		// programming error, surfaced as an error frame rather than a panic.
		return encode(TypeError, ErrorPayload{Message: "internal encoding error"})
	}
	out, _ := json.Marshal(envelope{Type: typ, Payload: raw})
	return out
}

// WelcomePayload greets a new connection with the room state and the
// caller's resolved identity.
type WelcomePayload struct {
	OnlineCount int            `json:"online_count"`
	User        model.ChatUser `json:"user"`
}

// OnlinePayload carries a room online-count update.
type OnlinePayload struct {
	OnlineCount int `json:"online_count"`
}

// ErrorPayload carries a user-facing error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ReadyPayload opens a presence stream with the subscriber's own status.
type ReadyPayload struct {
	Self model.PresenceStatus `json:"self"`
}

// Welcome builds the connection-time greeting frame.
func Welcome(onlineCount int, user model.ChatUser) []byte {
	return encode(TypeWelcome, WelcomePayload{OnlineCount: onlineCount, User: user})
}

// Online builds a room online-count update frame.
func Online(onlineCount int) []byte {
	return encode(TypeOnline, OnlinePayload{OnlineCount: onlineCount})
}

// Message builds a public-room message frame.
func Message(m model.ChatMessage) []byte {
	return encode(TypeMessage, m)
}

// DM builds a direct-message frame.
func DM(d model.DirectMessage) []byte {
	return encode(TypeDM, d)
}

// Error builds a user-facing error frame. Sent only to the offending
// connection, never broadcast.
func Error(message string) []byte {
	return encode(TypeError, ErrorPayload{Message: message})
}

// Ready builds the one-time presence-stream greeting.
func Ready(self model.PresenceStatus) []byte {
	return encode(TypeReady, ReadyPayload{Self: self})
}

// Presence builds a presence-changed frame.
func Presence(s model.PresenceStatus) []byte {
	return encode(TypePresence, s)
}
