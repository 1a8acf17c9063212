// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides per-day conversation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Wait on writer contention instead of failing immediately; the
	// coordinator appends from request goroutines concurrently.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			date        TEXT NOT NULL,
			title       TEXT NOT NULL,
			message_seq INTEGER NOT NULL DEFAULT 0,
			has_unread  INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			UNIQUE(user_id, date)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_date
			ON conversations(user_id, date DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			message_number  INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			photo_timestamp INTEGER,
			created_at      TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant')),
			UNIQUE(conversation_id, message_number)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, message_number);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// InitializeConversation atomically creates the conversation for (userID, date)
// if it doesn't exist and returns it. The upsert is a single statement, so two
// concurrent callers for the same user always converge on one row.
func (s *SQLiteStore) InitializeConversation(ctx context.Context, userID, date string) (*Conversation, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO conversations (id, user_id, date, title, message_seq, has_unread, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(user_id, date) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		userID,
		date,
		DayTitle(date),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting conversation: %w", err)
	}

	conv, err := s.getConversationRow(ctx, s.db, userID, date)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("conversation initialized", "user_id", userID, "date", date, "conversation_id", conv.ID)
	return conv, nil
}

// AddMessage appends a message to the (userID, date) conversation inside one
// transaction: the per-conversation sequence counter is bumped and read, then
// the message row is inserted with that number. The UNIQUE constraint on
// (conversation_id, message_number) backstops the invariant.
//
// An assistant append raises the conversation's unread flag; a user append
// leaves it untouched. Only MarkRead lowers it.
func (s *SQLiteStore) AddMessage(ctx context.Context, userID, date string, role Role, content string, photoTimestamp *int64) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Lazy creation on first message of the day
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, date, title, message_seq, has_unread, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(user_id, date) DO NOTHING
	`,
		uuid.New().String(),
		userID,
		date,
		DayTitle(date),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting conversation: %w", err)
	}

	hasUnread := 0
	if role == RoleAssistant {
		hasUnread = 1
	}

	// MAX keeps an existing unread flag: only MarkRead clears it
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET message_seq = message_seq + 1, has_unread = MAX(has_unread, ?), updated_at = ?
		WHERE user_id = ? AND date = ?
	`, hasUnread, now.Format(time.RFC3339), userID, date)
	if err != nil {
		return nil, fmt.Errorf("advancing message sequence: %w", err)
	}

	var conversationID string
	var seq int
	err = tx.QueryRowContext(ctx, `
		SELECT id, message_seq FROM conversations WHERE user_id = ? AND date = ?
	`, userID, date).Scan(&conversationID, &seq)
	if err != nil {
		return nil, fmt.Errorf("reading message sequence: %w", err)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		MessageNumber:  seq,
		Role:           role,
		Content:        content,
		PhotoTimestamp: photoTimestamp,
		Timestamp:      now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, message_number, role, content, photo_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		conversationID,
		msg.MessageNumber,
		string(msg.Role),
		msg.Content,
		msg.PhotoTimestamp,
		msg.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("message appended",
		"user_id", userID,
		"date", date,
		"message_id", msg.ID,
		"message_number", msg.MessageNumber,
		"role", msg.Role,
	)
	return msg, nil
}

// UpdateMessageContent revises a stored message's content in place.
// Returns ErrNotFound if the message doesn't exist in that conversation.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, userID, date, messageID, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?
		WHERE id = ?
		  AND conversation_id = (SELECT id FROM conversations WHERE user_id = ? AND date = ?)
	`, content, messageID, userID, date)
	if err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("message content updated", "user_id", userID, "date", date, "message_id", messageID)
	return nil
}

// GetConversation retrieves a conversation with its messages in order.
// Returns ErrNotFound if no conversation exists for (userID, date).
func (s *SQLiteStore) GetConversation(ctx context.Context, userID, date string) (*Conversation, error) {
	conv, err := s.getConversationRow(ctx, s.db, userID, date)
	if err != nil {
		return nil, err
	}

	conv.Messages, err = s.getMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	return conv, nil
}

// ListConversations retrieves all conversations for a user, newest day first,
// each with its messages in conversation order.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, title, has_unread, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	for _, conv := range conversations {
		conv.Messages, err = s.getMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
	}

	return conversations, nil
}

// MarkRead clears the unread flag on the (userID, date) conversation.
// Returns ErrNotFound if no conversation exists.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID, date string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET has_unread = 0, updated_at = ?
		WHERE user_id = ? AND date = ?
	`, time.Now().UTC().Format(time.RFC3339), userID, date)
	if err != nil {
		return fmt.Errorf("marking conversation read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("conversation marked read", "user_id", userID, "date", date)
	return nil
}

// DeleteConversations removes all conversations and their messages for a user
func (s *SQLiteStore) DeleteConversations(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id IN (SELECT id FROM conversations WHERE user_id = ?)
	`, userID)
	if err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.Info("conversations deleted", "user_id", userID, "count", rowsAffected)
	return nil
}

// queryRower covers *sql.DB and *sql.Tx for single-row lookups
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getConversationRow loads a conversation header without messages
func (s *SQLiteStore) getConversationRow(ctx context.Context, q queryRower, userID, date string) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, date, title, has_unread, created_at, updated_at
		FROM conversations
		WHERE user_id = ? AND date = ?
	`, userID, date)

	var conv Conversation
	var hasUnread int
	var createdAtStr, updatedAtStr string

	err := row.Scan(&conv.ID, &conv.UserID, &conv.Date, &conv.Title, &hasUnread, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.HasUnread = hasUnread != 0

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// scanConversation scans a conversation header from a multi-row result
func scanConversation(rows *sql.Rows) (*Conversation, error) {
	var conv Conversation
	var hasUnread int
	var createdAtStr, updatedAtStr string

	if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Date, &conv.Title, &hasUnread, &createdAtStr, &updatedAtStr); err != nil {
		return nil, fmt.Errorf("scanning conversation row: %w", err)
	}

	conv.HasUnread = hasUnread != 0

	var err error
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// getMessages loads a conversation's messages in conversation order
func (s *SQLiteStore) getMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_number, role, content, photo_timestamp, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY message_number ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var role string
		var photoTS sql.NullInt64
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.MessageNumber, &role, &msg.Content, &photoTS, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Role = Role(role)
		if photoTS.Valid {
			ts := photoTS.Int64
			msg.PhotoTimestamp = &ts
		}

		msg.Timestamp, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
