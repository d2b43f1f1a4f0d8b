package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcortes/tutorlink/internal/archive"
	"github.com/pcortes/tutorlink/internal/bus"
	"github.com/pcortes/tutorlink/internal/chat"
	"go.uber.org/zap"
)

func testEngine(t *testing.T) (*Engine, *archive.DB, *bus.Bus) {
	t.Helper()
	db, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	return NewEngine(db, b, "u1", zap.NewNop()), db, b
}

func pushMessage(id, convID, senderID, body string, at time.Time) *chat.Message {
	return &chat.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		SenderName:     "Bruno",
		SenderRole:     chat.RoleStudent,
		Body:           body,
		CreatedAt:      at,
	}
}

func TestIngestMessage(t *testing.T) {
	e, db, _ := testEngine(t)

	at := time.Now()
	if err := e.IngestMessage(pushMessage("m1", "c1", "u2", "hello there", at)); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation not created")
	}
	if conv.CounterpartID != "u2" || conv.CounterpartName != "Bruno" {
		t.Errorf("counterpart = %s/%s, want u2/Bruno", conv.CounterpartID, conv.CounterpartName)
	}
	if conv.LastMessagePreview != "hello there" {
		t.Errorf("preview = %q, want hello there", conv.LastMessagePreview)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "m1" || msgs[0].FromMe {
		t.Errorf("msgs = %+v, want one inbound m1", msgs)
	}
}

func TestIngestRedeliveredMessage(t *testing.T) {
	e, db, _ := testEngine(t)

	m := pushMessage("m1", "c1", "u2", "hello", time.Now())
	if err := e.IngestMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after redelivery, want 1", len(msgs))
	}
}

func TestIngestOwnMessageKeepsCounterpart(t *testing.T) {
	e, db, _ := testEngine(t)

	if err := e.IngestMessage(pushMessage("m1", "c1", "u2", "question", time.Now())); err != nil {
		t.Fatal(err)
	}
	// An echo of our own send carries no counterpart identity; it must not
	// blank out what the inbound message established.
	own := pushMessage("m2", "c1", "u1", "answer", time.Now().Add(time.Second))
	own.SenderName = "Me"
	own.SenderRole = chat.RoleTutor
	if err := e.IngestMessage(own); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.CounterpartID != "u2" || conv.CounterpartName != "Bruno" {
		t.Errorf("counterpart = %s/%s, want u2/Bruno", conv.CounterpartID, conv.CounterpartName)
	}
	if conv.LastMessagePreview != "answer" {
		t.Errorf("preview = %q, want answer", conv.LastMessagePreview)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || !msgs[0].FromMe {
		t.Errorf("msgs = %+v, want newest from_me=true", msgs)
	}
}

func TestEngineArchivesBusEvents(t *testing.T) {
	e, db, b := testEngine(t)

	archived, unsub := b.Subscribe("message.archived", 8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	b.Publish(bus.Event{
		Kind:      "gateway.new_message",
		Timestamp: time.Now(),
		Payload:   pushMessage("m1", "c1", "u2", "hi", time.Now()),
	})

	select {
	case evt := <-archived:
		info, ok := evt.Payload.(map[string]string)
		if !ok || info["msg_id"] != "m1" {
			t.Errorf("payload = %+v, want msg_id=m1", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message.archived")
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d archived messages, want 1", len(msgs))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncate(string(long), 100); len(got) != 100 {
		t.Errorf("truncate long len = %d, want 100", len(got))
	}
}
