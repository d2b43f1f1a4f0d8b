package archive

// SearchMessages runs a full-text search over message bodies. conversationID
// narrows the search to one conversation when non-empty.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.msg_id, m.sender_id, m.sender_name, m.sender_role, m.body, m.from_me, m.created_at,
			snippet(messages_fts, 0, '[', ']', '…', 8)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`
	args := []any{query}
	if conversationID != "" {
		q += ` AND m.conversation_id = ?`
		args = append(args, conversationID)
	}
	q += ` ORDER BY m.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m := &r.Message
		if err := rows.Scan(&m.RowID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName, &m.SenderRole, &m.Body, &m.FromMe, &m.CreatedAt, &r.Snippet); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
