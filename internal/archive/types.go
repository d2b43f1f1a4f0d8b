package archive

// Conversation is the locally mirrored view of a two-party thread.
type Conversation struct {
	ID                 string
	CounterpartID      string
	CounterpartName    string
	CounterpartRole    string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a locally mirrored message row.
type Message struct {
	RowID          int64
	ConversationID string
	MsgID          string
	SenderID       string
	SenderName     string
	SenderRole     string
	Body           string
	FromMe         bool
	CreatedAt      int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
