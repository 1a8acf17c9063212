// ABOUTME: Wire event types for the SSE stream between gateway and glasses clients
// ABOUTME: Events are JSON objects discriminated by a "type" field

package stream

import (
	"encoding/json"
	"time"

	"github.com/halolens/glass-gateway/internal/store"
)

// EventType discriminates the wire event shapes
type EventType string

const (
	EventHistory       EventType = "history"
	EventMessage       EventType = "message"
	EventMessageUpdate EventType = "message_update"
	EventProcessing    EventType = "processing"
	EventIdle          EventType = "idle"
)

// AssistantSender is the senderId used for assistant-authored messages
const AssistantSender = "assistant"

// WireMessage is the JSON shape of a message on the stream
type WireMessage struct {
	ID            string `json:"id"`
	MessageNumber int    `json:"messageNumber,omitempty"`
	SenderID      string `json:"senderId"`
	RecipientID   string `json:"recipientId"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
	Image         *int64 `json:"image,omitempty"`
}

// Event is the envelope written as one `data:` line per event.
// Only the fields relevant to the Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// history; pointer so an empty day still serializes as "messages": []
	Messages *[]WireMessage `json:"messages,omitempty"`

	// message / message_update
	ID          string `json:"id,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	Content     string `json:"content,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Image       *int64 `json:"image,omitempty"`
}

// MessageFromStore converts a persisted message to its wire shape.
// Assistant messages are addressed to the user; user messages to the assistant.
func MessageFromStore(userID string, m *store.Message) WireMessage {
	wire := WireMessage{
		ID:            m.ID,
		MessageNumber: m.MessageNumber,
		Content:       m.Content,
		Timestamp:     m.Timestamp.UTC().Format(time.RFC3339),
		Image:         m.PhotoTimestamp,
	}
	if m.Role == store.RoleAssistant {
		wire.SenderID = AssistantSender
		wire.RecipientID = userID
	} else {
		wire.SenderID = userID
		wire.RecipientID = AssistantSender
	}
	return wire
}

// NewHistoryEvent builds the snapshot event sent once on connect
func NewHistoryEvent(userID string, messages []*store.Message) *Event {
	wire := make([]WireMessage, len(messages))
	for i, m := range messages {
		wire[i] = MessageFromStore(userID, m)
	}
	return &Event{Type: EventHistory, Messages: &wire}
}

// NewMessageEvent builds the live event for a newly persisted message
func NewMessageEvent(userID string, m *store.Message) *Event {
	wire := MessageFromStore(userID, m)
	return &Event{
		Type:        EventMessage,
		ID:          wire.ID,
		SenderID:    wire.SenderID,
		RecipientID: wire.RecipientID,
		Content:     wire.Content,
		Timestamp:   wire.Timestamp,
		Image:       wire.Image,
	}
}

// NewMessageUpdateEvent builds the in-place revision event for an existing
// message, matched by ID on the client. Order and numbering are untouched.
func NewMessageUpdateEvent(messageID, content string, image *int64) *Event {
	return &Event{
		Type:      EventMessageUpdate,
		ID:        messageID,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Image:     image,
	}
}

// NewProcessingEvent signals that the assistant is working
func NewProcessingEvent() *Event {
	return &Event{Type: EventProcessing}
}

// NewIdleEvent signals that the assistant finished
func NewIdleEvent() *Event {
	return &Event{Type: EventIdle}
}

// Marshal serializes the event to its JSON payload
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
