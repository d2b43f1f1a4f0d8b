package thread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pcortes/tutorlink/internal/bus"
	"github.com/pcortes/tutorlink/internal/chat"
	"go.uber.org/zap"
)

// State is the lifecycle of the open thread.
type State string

const (
	Idle    State = "IDLE"    // no thread selected
	Loading State = "LOADING" // history fetch and room join in flight
	Live    State = "LIVE"    // joined, inbound pushes appended
)

// DefaultPageSize is the history page fetched on selection.
const DefaultPageSize = 50

// typingIdle is how long after the last keystroke the stop_typing signal fires.
const typingIdle = 2 * time.Second

// Transport is the subset of the gateway the synchronizer drives.
type Transport interface {
	JoinRoom(ctx context.Context, conversationID string) error
	LeaveRoom(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, conversationID, content, contentType string) error
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// History loads a page of past messages for a conversation.
type History interface {
	ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]chat.Message, error)
}

// ReadMarker acknowledges a conversation as read for the signed-in user.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string)
}

// Synchronizer manages the currently open conversation: its message buffer,
// room membership and the typing presence signal in both directions.
//
// The buffer holds messages strictly in arrival order as the transport
// delivered them; no re-sorting and no deduplication happen here.
type Synchronizer struct {
	transport Transport
	history   History
	reader    ReadMarker
	bus       *bus.Bus
	selfID    string
	logger    *zap.Logger

	typingIdle time.Duration

	mu           sync.Mutex
	state        State
	conv         *chat.Conversation
	buffer       []chat.Message
	remoteTyping bool
	typingTimer  *time.Timer

	cancel context.CancelFunc
}

// New creates a synchronizer for the signed-in user. It starts Idle.
func New(transport Transport, history History, reader ReadMarker, b *bus.Bus, selfID string, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		transport:  transport,
		history:    history,
		reader:     reader,
		bus:        b,
		selfID:     selfID,
		logger:     logger,
		typingIdle: typingIdle,
		state:      Idle,
	}
}

// Start subscribes to gateway pushes for the open thread.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe("gateway.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				s.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the push subscription.
func (s *Synchronizer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Select opens a conversation: leaves the previously joined room, discards
// the previous buffer, joins the new room, loads the most recent history
// page and issues a read-mark for the newly selected thread.
func (s *Synchronizer) Select(ctx context.Context, conv chat.Conversation) {
	s.mu.Lock()
	if s.conv != nil {
		prev := s.conv.ID
		s.stopTypingTimerLocked()
		s.mu.Unlock()
		if err := s.transport.LeaveRoom(ctx, prev); err != nil {
			s.logger.Warn("leave room failed", zap.Error(err), zap.String("conversation_id", prev))
		}
		s.mu.Lock()
	}
	s.conv = &conv
	s.buffer = nil
	s.remoteTyping = false
	s.state = Loading
	s.mu.Unlock()

	if err := s.transport.JoinRoom(ctx, conv.ID); err != nil {
		s.logger.Warn("join room failed", zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	msgs, err := s.history.ListMessages(ctx, conv.ID, 1, DefaultPageSize)
	if err != nil {
		// Degrade to an empty buffer; no retry.
		s.logger.Warn("history load failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		msgs = nil
	}

	s.mu.Lock()
	if s.conv == nil || s.conv.ID != conv.ID {
		// Switched away while the history fetch was in flight.
		s.mu.Unlock()
		return
	}
	s.buffer = msgs
	s.state = Live
	s.mu.Unlock()

	s.reader.MarkRead(ctx, conv.ID)
}

// Deselect closes the open thread: leaves its room and clears the buffer.
func (s *Synchronizer) Deselect(ctx context.Context) {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return
	}
	prev := s.conv.ID
	s.conv = nil
	s.buffer = nil
	s.remoteTyping = false
	s.state = Idle
	s.stopTypingTimerLocked()
	s.mu.Unlock()

	if err := s.transport.LeaveRoom(ctx, prev); err != nil {
		s.logger.Warn("leave room failed", zap.Error(err), zap.String("conversation_id", prev))
	}
}

// Send delivers the composed text to the open thread. Empty-after-trim text
// and no selection are no-ops. The message is not inserted into the buffer
// here: the server echoes it back as a push, which avoids duplicate entries
// from racing the echo. On a successful ack the local typing signal is
// retired.
func (s *Synchronizer) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if text == "" || conv == nil {
		return nil
	}

	if err := s.transport.SendMessage(ctx, conv.ID, text, "text"); err != nil {
		s.logger.Error("send failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		return err
	}

	s.mu.Lock()
	s.stopTypingTimerLocked()
	s.mu.Unlock()
	if err := s.transport.StopTyping(ctx, conv.ID); err != nil {
		s.logger.Warn("stop typing failed", zap.Error(err))
	}
	return nil
}

// Keystroke reports compose activity: it emits start_typing for the open
// thread (repeat emissions are fine, the consumer is idempotent) and re-arms
// the inactivity timer. Only the timer firing emits stop_typing.
func (s *Synchronizer) Keystroke(ctx context.Context) {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return
	}

	if err := s.transport.StartTyping(ctx, conv.ID); err != nil {
		s.logger.Warn("start typing failed", zap.Error(err))
	}

	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	id := conv.ID
	s.typingTimer = time.AfterFunc(s.typingIdle, func() {
		s.mu.Lock()
		s.typingTimer = nil
		still := s.conv != nil && s.conv.ID == id
		s.mu.Unlock()
		if !still {
			return
		}
		if err := s.transport.StopTyping(context.Background(), id); err != nil {
			s.logger.Warn("stop typing failed", zap.Error(err))
		}
	})
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the open conversation, if any.
func (s *Synchronizer) Current() (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return chat.Conversation{}, false
	}
	return *s.conv, true
}

// Messages returns a copy of the buffer in arrival order.
func (s *Synchronizer) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// RemoteTyping reports whether the counterpart is currently composing.
func (s *Synchronizer) RemoteTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTyping
}

func (s *Synchronizer) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "gateway.new_message":
		msg, ok := evt.Payload.(*chat.Message)
		if !ok {
			return
		}
		s.mu.Lock()
		open := s.conv != nil && s.conv.ID == msg.ConversationID && s.state == Live
		if open {
			s.buffer = append(s.buffer, *msg)
		}
		s.mu.Unlock()
		if open {
			// Scroll-to-latest side effect for the rendering layer.
			s.bus.Publish(bus.Event{
				Kind:      "thread.appended",
				Timestamp: time.Now(),
				Payload:   msg.ID,
			})
		}

	case "gateway.user_typing":
		sig, ok := evt.Payload.(chat.TypingSignal)
		if !ok {
			return
		}
		if sig.UserID == s.selfID {
			return
		}
		s.mu.Lock()
		open := s.conv != nil && s.conv.ID == sig.ConversationID
		changed := open && s.remoteTyping != sig.Typing
		if open {
			s.remoteTyping = sig.Typing
		}
		s.mu.Unlock()
		if changed {
			s.bus.Publish(bus.Event{
				Kind:      "thread.typing_changed",
				Timestamp: time.Now(),
				Payload:   sig,
			})
		}
	}
}

// stopTypingTimerLocked cancels a pending stop_typing emission. Caller holds mu.
func (s *Synchronizer) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}
