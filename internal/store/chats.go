package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zentrohq/zentro/pkg/models"
)

// chatTitleLimit is the maximum length of an auto-derived chat title.
const chatTitleLimit = 50

// ChatTitle derives a chat title from the first prompt: truncated to 50
// characters with a "..." suffix when longer.
func ChatTitle(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= chatTitleLimit {
		return prompt
	}
	return string(runes[:chatTitleLimit]) + "..."
}

// CreateChat inserts a conversation row. A duplicate thread id yields
// Conflict.
func (t *Tx) CreateChat(ctx context.Context, userID int64, threadID, title string) (*models.Chat, error) {
	var c models.Chat
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO chats (user_id, thread_id, title) VALUES ($1, $2, $3)
		 RETURNING id, user_id, thread_id, title, created_at`,
		userID, threadID, title,
	).Scan(&c.ID, &c.UserID, &c.ThreadID, &c.Title, &c.CreatedAt)
	if isUniqueViolation(err) {
		return nil, Conflictf("chat for thread %q already exists", threadID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChatByThreadID fetches a chat by its thread id.
func (t *Tx) GetChatByThreadID(ctx context.Context, threadID string) (*models.Chat, error) {
	var c models.Chat
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, user_id, thread_id, title, created_at
		 FROM chats WHERE thread_id = $1`, threadID,
	).Scan(&c.ID, &c.UserID, &c.ThreadID, &c.Title, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("chat for thread %q", threadID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatsByUser returns the caller's chats, newest first.
func (t *Tx) ListChatsByUser(ctx context.Context, userID int64) ([]models.Chat, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, user_id, thread_id, title, created_at
		 FROM chats WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.ThreadID, &c.Title, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// AppendMessage adds one message to a chat's transcript.
func (t *Tx) AppendMessage(ctx context.Context, chatID int64, role models.MessageRole, content string) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO chat_messages (chat_id, role, content) VALUES ($1, $2, $3)
		 RETURNING id, chat_id, role, content, created_at`,
		chatID, role, content,
	).Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a chat's transcript in insertion order.
func (t *Tx) ListMessages(ctx context.Context, chatID int64) ([]models.ChatMessage, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at
		 FROM chat_messages WHERE chat_id = $1 ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
