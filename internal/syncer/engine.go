package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/pcortes/tutorlink/internal/archive"
	"github.com/pcortes/tutorlink/internal/bus"
	"github.com/pcortes/tutorlink/internal/chat"
	"go.uber.org/zap"
)

// Engine mirrors inbound traffic into the local archive. It subscribes to
// "gateway." events on the bus and ingests them idempotently: a redelivered
// push updates the existing row instead of duplicating it.
type Engine struct {
	db     *archive.DB
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine for the signed-in user.
func NewEngine(db *archive.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		selfID: selfID,
		logger: logger,
	}
}

// Start subscribes to inbound gateway events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("gateway.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "gateway.new_message":
		msg, ok := evt.Payload.(*chat.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	}
}

// IngestMessage mirrors a single pushed message into the archive (idempotent).
func (e *Engine) IngestMessage(msg *chat.Message) error {
	conv := &archive.Conversation{
		ID:                 msg.ConversationID,
		LastMessageAt:      msg.CreatedAt.UnixMilli(),
		LastMessagePreview: truncate(msg.Body, 100),
	}
	if msg.SenderID != e.selfID {
		// Only an inbound message identifies the counterpart.
		conv.CounterpartID = msg.SenderID
		conv.CounterpartName = msg.SenderName
		conv.CounterpartRole = string(msg.SenderRole)
	}
	if err := e.db.UpsertConversation(conv); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if err := e.db.UpsertMessage(&archive.Message{
		ConversationID: msg.ConversationID,
		MsgID:          msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		SenderRole:     string(msg.SenderRole),
		Body:           msg.Body,
		FromMe:         msg.SenderID == e.selfID,
		CreatedAt:      msg.CreatedAt.UnixMilli(),
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      "message.archived",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": msg.ConversationID,
			"msg_id":          msg.ID,
		},
	})

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
