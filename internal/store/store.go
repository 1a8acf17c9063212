// ABOUTME: Store interface and data types for glass-gateway persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known values
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents a single turn within a conversation.
// Messages are immutable once appended except for the explicit
// content-update path used for progressive reply revision.
type Message struct {
	ID             string
	MessageNumber  int // 1-based, gap-free within a conversation
	Role           Role
	Content        string
	PhotoTimestamp *int64 // Unix seconds of an associated image capture, if any
	Timestamp      time.Time
}

// Conversation is the per-(user, calendar day) message log
type Conversation struct {
	ID        string
	UserID    string
	Date      string // YYYY-MM-DD in the reporting timezone
	Title     string
	HasUnread bool
	Messages  []*Message // insertion order = conversation order
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DayKey returns the calendar-day conversation key for t in the given zone
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// DayTitle derives the display label for a day key, e.g. "Monday, January 2".
// Falls back to the raw key if it doesn't parse.
func DayTitle(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2")
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// InitializeConversation atomically creates the conversation for
	// (userID, date) if absent and returns it (without messages).
	// Safe under concurrent callers for the same user.
	InitializeConversation(ctx context.Context, userID, date string) (*Conversation, error)

	// AddMessage appends a message to the (userID, date) conversation,
	// creating it if needed. Number assignment and append happen in a
	// single transaction so concurrent appends never collide. Assistant
	// appends raise the unread flag; only MarkRead lowers it.
	AddMessage(ctx context.Context, userID, date string, role Role, content string, photoTimestamp *int64) (*Message, error)

	// UpdateMessageContent revises a previously appended message in place,
	// matched by ID. Number and position are unchanged.
	UpdateMessageContent(ctx context.Context, userID, date, messageID, content string) error

	// GetConversation returns a single conversation with its messages in
	// conversation order, or ErrNotFound.
	GetConversation(ctx context.Context, userID, date string) (*Conversation, error)

	// ListConversations returns all conversations for a user, newest day first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// MarkRead clears the unread flag on the (userID, date) conversation.
	MarkRead(ctx context.Context, userID, date string) error

	// DeleteConversations removes all conversations and messages for a user.
	DeleteConversations(ctx context.Context, userID string) error

	// Close releases any resources held by the store
	Close() error
}
