package chat

import "time"

// Role identifies what kind of platform user a participant is.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// Participant is one of the two users in a conversation.
type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// Conversation is a two-party thread as reported by the backend.
// The client never mutates it locally; unread counts change only
// through a fresh snapshot after a read acknowledgement.
type Conversation struct {
	ID            string         `json:"id"`
	Participants  []Participant  `json:"participants"`
	LastMessage   *string        `json:"last_message"`
	LastMessageAt *time.Time     `json:"last_message_at"`
	UnreadCounts  map[string]int `json:"unread_counts"`
}

// Counterpart returns the participant other than selfID.
func (c *Conversation) Counterpart(selfID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != selfID {
			return p, true
		}
	}
	return Participant{}, false
}

// UnreadFor returns the unread count recorded for the given user.
func (c *Conversation) UnreadFor(userID string) int {
	return c.UnreadCounts[userID]
}

// Message is a single server-confirmed message. Immutable once created.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderRole     Role      `json:"sender_role"`
	Body           string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	ReadBy         []string  `json:"read_by"`
}

// TypingSignal is a transient presence push. Never persisted.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}
