package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/pcortes/tutorlink/internal/chat"
)

// Event names carried on the wire, matching the push gateway contract.
const (
	// Outbound.
	EventSendMessage = "send_message"
	EventJoin        = "join_conversation"
	EventLeave       = "leave_conversation"
	EventStartTyping = "start_typing"
	EventStopTyping  = "stop_typing"

	// Inbound.
	EventNewMessage = "new_message"
	EventUserTyping = "user_typing"
	EventAck        = "ack"
)

// Frame is the tagged envelope for every event crossing the websocket.
// Data holds the event-specific payload; AckID correlates a send_message
// with the ack the server returns for it.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ack_id,omitempty"`
}

type sendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type"`
}

type roomPayload struct {
	ConversationID string `json:"conversation_id"`
}

type ackPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// InboundEvent is the tagged-variant result of parsing one inbound frame.
// Payloads are validated here, at the transport boundary, before they enter
// application state.
type InboundEvent interface {
	inboundEvent()
}

// NewMessageEvent carries a server-confirmed message pushed to a joined room.
type NewMessageEvent struct {
	Message chat.Message
}

// UserTypingEvent carries a transient typing signal for a room.
type UserTypingEvent struct {
	Signal chat.TypingSignal
}

// AckEvent settles a pending send_message.
type AckEvent struct {
	AckID string
	OK    bool
	Err   string
}

func (NewMessageEvent) inboundEvent() {}
func (UserTypingEvent) inboundEvent() {}
func (AckEvent) inboundEvent()        {}

// parseFrame decodes and validates a raw inbound frame.
func parseFrame(raw []byte) (InboundEvent, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case EventNewMessage:
		var msg chat.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		if msg.ID == "" || msg.ConversationID == "" {
			return nil, fmt.Errorf("%s payload missing message or conversation id", f.Event)
		}
		return NewMessageEvent{Message: msg}, nil

	case EventUserTyping:
		var sig chat.TypingSignal
		if err := json.Unmarshal(f.Data, &sig); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		if sig.ConversationID == "" || sig.UserID == "" {
			return nil, fmt.Errorf("%s payload missing conversation or user id", f.Event)
		}
		return UserTypingEvent{Signal: sig}, nil

	case EventAck:
		if f.AckID == "" {
			return nil, fmt.Errorf("ack frame missing ack_id")
		}
		var p ackPayload
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decode ack payload: %w", err)
			}
		}
		return AckEvent{AckID: f.AckID, OK: p.OK, Err: p.Error}, nil

	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
}

func encodeFrame(event string, ackID string, payload any) ([]byte, error) {
	f := Frame{Event: event, AckID: ackID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}
