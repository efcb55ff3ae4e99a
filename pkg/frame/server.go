package frame

import (
	"encoding/json"
	"fmt"

	"github.com/inkwell-app/realtime/pkg/model"
)

// ServerFrame is the tagged union of frames a client may receive.
type ServerFrame interface {
	serverFrame()
}

// MessageFrame wraps a public-room message.
type MessageFrame struct{ Message model.ChatMessage }

// DMFrame wraps a direct message.
type DMFrame struct{ DM model.DirectMessage }

// PresenceFrame wraps a presence-changed event.
type PresenceFrame struct{ Status model.PresenceStatus }

func (WelcomePayload) serverFrame() {}
func (OnlinePayload) serverFrame()  {}
func (ErrorPayload) serverFrame()   {}
func (ReadyPayload) serverFrame()   {}
func (MessageFrame) serverFrame()   {}
func (DMFrame) serverFrame()        {}
func (PresenceFrame) serverFrame()  {}

func unmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return v, nil
}

// ParseServer decodes one inbound server frame on the client side.
func ParseServer(raw []byte) (ServerFrame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}

	switch env.Type {
	case TypeWelcome:
		p, err := unmarshalPayload[WelcomePayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return p, nil
	case TypeOnline:
		p, err := unmarshalPayload[OnlinePayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return p, nil
	case TypeMessage:
		m, err := unmarshalPayload[model.ChatMessage](env.Payload)
		if err != nil {
			return nil, err
		}
		return MessageFrame{Message: m}, nil
	case TypeDM:
		d, err := unmarshalPayload[model.DirectMessage](env.Payload)
		if err != nil {
			return nil, err
		}
		return DMFrame{DM: d}, nil
	case TypeError:
		p, err := unmarshalPayload[ErrorPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return p, nil
	case TypeReady:
		p, err := unmarshalPayload[ReadyPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return p, nil
	case TypePresence:
		s, err := unmarshalPayload[model.PresenceStatus](env.Payload)
		if err != nil {
			return nil, err
		}
		return PresenceFrame{Status: s}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
}

// EncodeClient builds an outbound client frame from its typed form.
func EncodeClient(f ClientFrame) []byte {
	switch v := f.(type) {
	case PostMessage:
		return encode(TypeMessage, v)
	case PostDM:
		return encode(TypeDM, v)
	default:
		return nil
	}
}
