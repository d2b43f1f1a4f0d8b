package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pcortes/tutorlink/internal/bus"
	"github.com/pcortes/tutorlink/internal/status"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a room or send operation is attempted
// before Connect has established the transport. Callers are expected to
// treat this as a programming error, not a retryable condition.
var ErrNotConnected = errors.New("gateway: not connected")

const (
	dialTimeout    = 15 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type ackResult struct {
	ok  bool
	err string
}

// Gateway owns the single live websocket connection to the push gateway.
// Exactly one instance exists per signed-in session; it authenticates with
// the bearer credential and republishes parsed inbound events on the bus.
type Gateway struct {
	url     string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	token  string
	room   string // currently joined room, re-joined after a reconnect
	cancel context.CancelFunc
	acks   map[string]chan ackResult
}

// New creates a gateway for the given websocket URL.
func New(url string, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Gateway {
	return &Gateway{
		url:     url,
		bus:     b,
		machine: m,
		logger:  logger,
		acks:    make(map[string]chan ackResult),
	}
}

// Connect establishes the transport with the given bearer credential.
// Idempotent: calling while already connected with the same credential is a
// no-op. Transport failures are never surfaced to the caller; the gateway
// logs them and keeps retrying with capped backoff until Disconnect.
func (g *Gateway) Connect(ctx context.Context, credential string) {
	g.mu.Lock()
	if g.cancel != nil {
		same := g.token == credential
		g.mu.Unlock()
		if !same {
			g.logger.Warn("connect with a different credential while connected; disconnect first")
		}
		return
	}
	g.token = credential
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	_ = g.machine.Transition(status.Connecting)
	go g.run(runCtx)
}

// Disconnect tears down the transport. Safe to call when not connected.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	cancel := g.cancel
	conn := g.conn
	g.cancel = nil
	g.conn = nil
	g.token = ""
	g.room = ""
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	_ = g.machine.Transition(status.Offline)
	g.logger.Info("gateway disconnected")
}

// JoinRoom scopes push delivery to the given conversation's room.
func (g *Gateway) JoinRoom(ctx context.Context, conversationID string) error {
	if err := g.writeEvent(ctx, EventJoin, "", roomPayload{ConversationID: conversationID}); err != nil {
		return err
	}
	g.mu.Lock()
	g.room = conversationID
	g.mu.Unlock()
	return nil
}

// LeaveRoom stops push delivery for the given conversation's room.
func (g *Gateway) LeaveRoom(ctx context.Context, conversationID string) error {
	if err := g.writeEvent(ctx, EventLeave, "", roomPayload{ConversationID: conversationID}); err != nil {
		return err
	}
	g.mu.Lock()
	if g.room == conversationID {
		g.room = ""
	}
	g.mu.Unlock()
	return nil
}

// StartTyping signals that the signed-in user is composing in the given
// conversation. Safe to emit repeatedly; the consumer side is idempotent.
func (g *Gateway) StartTyping(ctx context.Context, conversationID string) error {
	return g.writeEvent(ctx, EventStartTyping, "", roomPayload{ConversationID: conversationID})
}

// StopTyping signals that the signed-in user stopped composing.
func (g *Gateway) StopTyping(ctx context.Context, conversationID string) error {
	return g.writeEvent(ctx, EventStopTyping, "", roomPayload{ConversationID: conversationID})
}

// SendMessage delivers a message through the gateway and waits for the
// server's acknowledgement. The message itself is not inserted locally: the
// server echoes it back as a new_message push to the joined room.
func (g *Gateway) SendMessage(ctx context.Context, conversationID, content, contentType string) error {
	ackID := uuid.New().String()
	ch := make(chan ackResult, 1)

	g.mu.Lock()
	g.acks[ackID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.acks, ackID)
		g.mu.Unlock()
	}()

	payload := sendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		ContentType:    contentType,
	}
	if err := g.writeEvent(ctx, EventSendMessage, ackID, payload); err != nil {
		return err
	}

	select {
	case res := <-ch:
		if !res.ok {
			return errors.New("gateway: send rejected: " + res.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if g.machine.Current() == status.Reconnecting {
			_ = g.machine.Transition(status.Connecting)
		}

		conn, err := g.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Warn("gateway dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			_ = g.machine.Transition(status.Reconnecting)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		g.mu.Lock()
		g.conn = conn
		room := g.room
		g.mu.Unlock()

		_ = g.machine.Transition(status.Connected)
		g.logger.Info("gateway connected")
		g.bus.Publish(bus.Event{Kind: "gateway.connected", Timestamp: time.Now()})

		// Restore room membership lost with the previous connection.
		if room != "" {
			if err := g.writeEvent(ctx, EventJoin, "", roomPayload{ConversationID: room}); err != nil {
				g.logger.Warn("rejoin room failed", zap.Error(err), zap.String("conversation_id", room))
			}
		}

		g.readLoop(ctx, conn)

		g.mu.Lock()
		if g.conn == conn {
			g.conn = nil
		}
		g.mu.Unlock()

		g.bus.Publish(bus.Event{Kind: "gateway.disconnected", Timestamp: time.Now()})
		if ctx.Err() != nil {
			return
		}
		g.logger.Warn("gateway connection lost, reconnecting")
		_ = g.machine.Transition(status.Reconnecting)
	}
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	g.mu.Lock()
	token := g.token
	g.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(dialCtx, g.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	return conn, err
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		g.handleFrame(data)
	}
}

func (g *Gateway) handleFrame(data []byte) {
	evt, err := parseFrame(data)
	if err != nil {
		g.logger.Warn("dropping unparseable frame", zap.Error(err))
		return
	}

	switch e := evt.(type) {
	case NewMessageEvent:
		msg := e.Message
		g.bus.Publish(bus.Event{
			Kind:      "gateway.new_message",
			Timestamp: time.Now(),
			Payload:   &msg,
		})
	case UserTypingEvent:
		g.bus.Publish(bus.Event{
			Kind:      "gateway.user_typing",
			Timestamp: time.Now(),
			Payload:   e.Signal,
		})
	case AckEvent:
		g.mu.Lock()
		ch := g.acks[e.AckID]
		g.mu.Unlock()
		if ch == nil {
			g.logger.Warn("ack for unknown correlation id", zap.String("ack_id", e.AckID))
			return
		}
		ch <- ackResult{ok: e.OK, err: e.Err}
	}
}

func (g *Gateway) writeEvent(ctx context.Context, event, ackID string, payload any) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := encodeFrame(event, ackID, payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
