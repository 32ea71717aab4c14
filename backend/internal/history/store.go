package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "epsilon-voice/backend/pkg/errors"
)

// Schema is the SQL DDL for the transcript tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    title      TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Conversation is one chat transcript's header row
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single stored turn
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists conversation transcripts in PostgreSQL
type Store struct {
	db DB
}

// NewStore creates a transcript store over the given connection or pool.
// The caller is responsible for calling [Store.Migrate] before issuing
// queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL against the database
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// CreateConversation inserts a conversation header. Creating an id that
// already exists is a no-op, so callers can create lazily on first message.
func (s *Store) CreateConversation(ctx context.Context, conversationID, userID, title string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO NOTHING
	`, conversationID, userID, title)
	if err != nil {
		return fmt.Errorf("history: create conversation: %w", err)
	}
	return nil
}

// AddMessage appends a turn to a conversation and touches its updated_at
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, conversationID, role, content).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("history: add message: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE conversations SET updated_at = now() WHERE id = $1
	`, conversationID); err != nil {
		return nil, fmt.Errorf("history: touch conversation: %w", err)
	}
	return msg, nil
}

// GetConversation returns one conversation header
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	var title *string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = $1
	`, conversationID).Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewConversationNotFound(conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get conversation: %w", err)
	}
	if title != nil {
		conv.Title = *title
	}
	return &conv, nil
}

// GetUserConversations lists a user's conversations, most recently updated
// first
func (s *Store) GetUserConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*Conversation, 0, limit)
	for rows.Next() {
		var conv Conversation
		var title *string
		if err := rows.Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("history: scan conversation: %w", err)
		}
		if title != nil {
			conv.Title = *title
		}
		conversations = append(conversations, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list conversations: %w", err)
	}
	return conversations, nil
}

// GetMessages returns a conversation's turns in chronological order
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("history: get messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: get messages: %w", err)
	}
	return messages, nil
}

// DeleteConversation removes a conversation and, via cascade, its messages
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("history: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConversationNotFound(conversationID)
	}
	return nil
}
