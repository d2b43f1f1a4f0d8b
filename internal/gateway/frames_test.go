package gateway

import (
	"encoding/json"
	"testing"
)

func TestParseFrameNewMessage(t *testing.T) {
	raw := []byte(`{"event":"new_message","data":{"id":"m1","conversation_id":"c1","sender_id":"u2","sender_name":"Bruno","sender_role":"student","content":"hi","created_at":"2026-02-10T17:00:00Z"}}`)

	evt, err := parseFrame(raw)
	if err != nil {
		t.Fatalf("parseFrame() error = %v", err)
	}
	msg, ok := evt.(NewMessageEvent)
	if !ok {
		t.Fatalf("event type = %T, want NewMessageEvent", evt)
	}
	if msg.Message.ID != "m1" || msg.Message.ConversationID != "c1" {
		t.Errorf("message = %+v, want id m1 conversation c1", msg.Message)
	}
	if msg.Message.Body != "hi" {
		t.Errorf("body = %q, want hi", msg.Message.Body)
	}
}

func TestParseFrameUserTyping(t *testing.T) {
	raw := []byte(`{"event":"user_typing","data":{"conversation_id":"c1","user_id":"u2","typing":true}}`)

	evt, err := parseFrame(raw)
	if err != nil {
		t.Fatalf("parseFrame() error = %v", err)
	}
	sig, ok := evt.(UserTypingEvent)
	if !ok {
		t.Fatalf("event type = %T, want UserTypingEvent", evt)
	}
	if sig.Signal.ConversationID != "c1" || sig.Signal.UserID != "u2" || !sig.Signal.Typing {
		t.Errorf("signal = %+v, want c1/u2/true", sig.Signal)
	}
}

func TestParseFrameAck(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantOK bool
	}{
		{"positive", `{"event":"ack","ack_id":"a1","data":{"ok":true}}`, true},
		{"negative", `{"event":"ack","ack_id":"a1","data":{"ok":false,"error":"room not joined"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := parseFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parseFrame() error = %v", err)
			}
			ack, ok := evt.(AckEvent)
			if !ok {
				t.Fatalf("event type = %T, want AckEvent", evt)
			}
			if ack.AckID != "a1" || ack.OK != tt.wantOK {
				t.Errorf("ack = %+v, want a1/%v", ack, tt.wantOK)
			}
		})
	}
}

func TestParseFrameRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"unknown event", `{"event":"presence_blast","data":{}}`},
		{"message without id", `{"event":"new_message","data":{"conversation_id":"c1"}}`},
		{"message without conversation", `{"event":"new_message","data":{"id":"m1"}}`},
		{"typing without user", `{"event":"user_typing","data":{"conversation_id":"c1"}}`},
		{"ack without correlation id", `{"event":"ack","data":{"ok":true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFrame([]byte(tt.raw)); err == nil {
				t.Errorf("parseFrame(%s) expected error", tt.raw)
			}
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := encodeFrame(EventSendMessage, "a1", sendMessagePayload{
		ConversationID: "c1",
		Content:        "hello",
		ContentType:    "text",
	})
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventSendMessage || f.AckID != "a1" {
		t.Errorf("frame = %+v, want send_message/a1", f)
	}
	var p sendMessagePayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Content != "hello" || p.ConversationID != "c1" {
		t.Errorf("payload = %+v, want c1/hello", p)
	}
}

func TestEncodeFrameNoPayload(t *testing.T) {
	data, err := encodeFrame(EventLeave, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if len(f.Data) != 0 {
		t.Errorf("data = %s, want empty", f.Data)
	}
}
