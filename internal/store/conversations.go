package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Conversation is an append-only message log owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry in a conversation log. Immutable once created.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"` // user, assistant, tool
	Content        string    `json:"content"`
	ToolCalls      string    `json:"tool_calls,omitempty"`   // JSON, assistant messages that invoked tools
	ToolCallID     string    `json:"tool_call_id,omitempty"` // for role=tool messages
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversation creates an empty conversation for the user.
func (db *DB) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation retrieves a conversation by id, scoped to the owner.
// A conversation owned by someone else is indistinguishable from a missing one.
func (db *DB) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (db *DB) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendMessage appends a message to the conversation and advances the
// conversation's updated_at in the same transaction. The conversation must
// exist and belong to userID.
func (db *DB) AppendMessage(ctx context.Context, conversationID, userID, role, content, toolCalls, toolCallID string) (*Message, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&owner)
	if err != nil {
		return nil, notFound(err)
	}

	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		ToolCallID:     toolCallID,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, tool_calls, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.UserID, m.Role, m.Content, m.ToolCalls, m.ToolCallID, m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, conversationID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

// GetHistory returns up to limit most recent messages for the conversation in
// chronological order (oldest first). Ownership is checked the same way as
// GetConversation.
func (db *DB) GetHistory(ctx context.Context, conversationID, userID string, limit int) ([]Message, error) {
	if _, err := db.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, tool_calls, tool_call_id, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &toolCalls, &toolCallID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ToolCalls = toolCalls.String
		m.ToolCallID = toolCallID.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to get chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ConversationStore is the persistence boundary the request handler depends on.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	AppendMessage(ctx context.Context, conversationID, userID, role, content, toolCalls, toolCallID string) (*Message, error)
	GetHistory(ctx context.Context, conversationID, userID string, limit int) ([]Message, error)
}

// Ensure *DB implements ConversationStore.
var _ ConversationStore = (*DB)(nil)
