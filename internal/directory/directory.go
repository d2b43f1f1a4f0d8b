package directory

import (
	"context"
	"sync"
	"time"

	"github.com/pcortes/tutorlink/internal/bus"
	"github.com/pcortes/tutorlink/internal/chat"
	"go.uber.org/zap"
)

// Backend is the subset of the REST client the directory consumes.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Policy decides which counterpart users the signed-in user may see
// conversations with. It is derived from the platform's relationship graph
// (parent-student links and the like), supplied externally.
type Policy interface {
	Allows(userID string) bool
}

// AllowList is a Policy backed by a fixed set of user ids.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList from a slice of user ids.
func NewAllowList(userIDs []string) AllowList {
	set := make(AllowList, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return set
}

// Allows reports whether the given user id is in the set.
func (a AllowList) Allows(userID string) bool {
	_, ok := a[userID]
	return ok
}

// Directory maintains the visible, ordered list of conversations. It is a
// pure projection of server state: every Load replaces the list wholesale,
// in backend order, and unread counts are never adjusted locally.
type Directory struct {
	backend Backend
	policy  Policy
	selfID  string
	bus     *bus.Bus
	logger  *zap.Logger

	mu    sync.RWMutex
	convs []chat.Conversation

	cancel context.CancelFunc
}

// New creates a directory for the given signed-in user.
func New(backend Backend, policy Policy, selfID string, b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{
		backend: backend,
		policy:  policy,
		selfID:  selfID,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to inbound pushes so previews and unread counts stay
// current even for threads that are not open.
func (d *Directory) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe("gateway.new_message", 256)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				d.Load(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the refresh subscription.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Load fetches the full snapshot, applies the visibility policy and replaces
// the in-memory list. A network failure resolves to an empty list so the UI
// renders its empty state instead of crashing; the error never escapes.
func (d *Directory) Load(ctx context.Context) {
	convs, err := d.backend.ListConversations(ctx)
	if err != nil {
		d.logger.Warn("directory load failed", zap.Error(err))
		convs = nil
	}

	filtered := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		if d.visible(&c) {
			filtered = append(filtered, c)
		}
	}

	d.mu.Lock()
	d.convs = filtered
	d.mu.Unlock()

	d.bus.Publish(bus.Event{
		Kind:      "directory.updated",
		Timestamp: time.Now(),
		Payload:   len(filtered),
	})
}

// MarkRead acknowledges a conversation as read, then refreshes the
// directory. The local unread count is never zeroed optimistically: on ack
// failure it stays whatever the next successful refresh reports.
func (d *Directory) MarkRead(ctx context.Context, conversationID string) {
	if err := d.backend.MarkRead(ctx, conversationID); err != nil {
		d.logger.Warn("read ack failed", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	d.bus.Publish(bus.Event{
		Kind:      "directory.read_acked",
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
	d.Load(ctx)
}

// Conversations returns a copy of the current visible list, in backend order.
func (d *Directory) Conversations() []chat.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]chat.Conversation, len(d.convs))
	copy(out, d.convs)
	return out
}

// Get returns the conversation with the given id, if visible.
func (d *Directory) Get(conversationID string) (chat.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.convs {
		if c.ID == conversationID {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// visible reports whether every participant other than self is permitted by
// the policy.
func (d *Directory) visible(c *chat.Conversation) bool {
	for _, p := range c.Participants {
		if p.UserID == d.selfID {
			continue
		}
		if !d.policy.Allows(p.UserID) {
			return false
		}
	}
	return true
}
