// ABOUTME: Coordinator is the per-user processing/idle state machine for conversations
// ABOUTME: Orchestrates persist -> broadcast -> agent call -> persist -> broadcast -> idle

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/halolens/glass-gateway/internal/agent"
	"github.com/halolens/glass-gateway/internal/store"
	"github.com/halolens/glass-gateway/internal/stream"
)

// Validation and state errors surfaced to the API layer
var (
	ErrEmptyUserID  = errors.New("user id is required")
	ErrEmptyMessage = errors.New("message is required")

	// ErrBusy is returned when a message arrives while the previous one for
	// the same user is still being answered. Callers retry after idle.
	ErrBusy = errors.New("assistant is already processing a message for this user")

	// ErrAgentNotReady is returned when the assistant reports it cannot
	// accept queries right now.
	ErrAgentNotReady = errors.New("assistant is not ready")
)

// fallbackReply is persisted and shown when the assistant call fails, so the
// user sees an answer-shaped turn instead of a spinner that never resolves.
const fallbackReply = "Sorry, I wasn't able to answer that. Please try again."

// ConversationStore defines what the coordinator needs from storage
type ConversationStore interface {
	InitializeConversation(ctx context.Context, userID, date string) (*store.Conversation, error)
	AddMessage(ctx context.Context, userID, date string, role store.Role, content string, photoTimestamp *int64) (*store.Message, error)
	UpdateMessageContent(ctx context.Context, userID, date, messageID, content string) error
	GetConversation(ctx context.Context, userID, date string) (*store.Conversation, error)
}

// Broadcaster defines what the coordinator needs from the stream layer
type Broadcaster interface {
	Register(userID string, conn *stream.Conn)
	Unregister(userID string, conn *stream.Conn)
	Broadcast(userID string, event *stream.Event)
	Send(conn *stream.Conn, event *stream.Event)
	HasConnections(userID string) bool
}

// userState holds the per-user processing flag. Each user has their own
// mutexes; unrelated users never serialize on each other.
type userState struct {
	mu         sync.Mutex
	processing bool

	// pub serializes each persist+broadcast pair against the
	// snapshot+register in RegisterStream: a new connection sees every
	// event either in its history snapshot or live, never in both and
	// never in neither.
	pub sync.Mutex
}

// Coordinator ties the store, the stream registry, and the external
// assistant together, owning the per-user IDLE/PROCESSING state.
type Coordinator struct {
	store     ConversationStore
	registry  Broadcaster
	responder agent.Responder
	logger    *slog.Logger

	loc          *time.Location
	agentTimeout time.Duration

	mu    sync.Mutex
	users map[string]*userState
}

// Options tunes coordinator behavior
type Options struct {
	// Location is the reporting timezone for per-day conversation keys.
	// Defaults to UTC.
	Location *time.Location
	// AgentTimeout bounds each assistant call. Defaults to 90s.
	AgentTimeout time.Duration
}

// New creates a Coordinator. Pass nil logger for default.
func New(st ConversationStore, registry Broadcaster, responder agent.Responder, logger *slog.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.AgentTimeout == 0 {
		opts.AgentTimeout = 90 * time.Second
	}
	return &Coordinator{
		store:        st,
		registry:     registry,
		responder:    responder,
		logger:       logger.With("component", "chat"),
		loc:          opts.Location,
		agentTimeout: opts.AgentTimeout,
		users:        make(map[string]*userState),
	}
}

// today returns the current day key in the reporting timezone
func (c *Coordinator) today() string {
	return store.DayKey(time.Now(), c.loc)
}

// state returns the per-user entry, creating it on first use
func (c *Coordinator) state(userID string) *userState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.users[userID]
	if !ok {
		st = &userState{}
		c.users[userID] = st
	}
	return st
}

// ProcessMessage accepts a user message and kicks off the reply cycle.
//
// The call is fire-and-forget: the user message is persisted and the
// `processing` event broadcast before this returns, but the assistant call
// runs on its own goroutine and the caller never blocks on it. For one user
// the broadcast order is always processing -> message -> idle.
//
// A second message while the user is still PROCESSING is rejected with
// ErrBusy rather than interleaved (see package docs).
func (c *Coordinator) ProcessMessage(ctx context.Context, userID, text string, photoTimestamp *int64) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if text == "" {
		return ErrEmptyMessage
	}

	status := c.responder.Status(ctx, userID)
	if !status.Ready {
		return ErrAgentNotReady
	}

	st := c.state(userID)
	st.mu.Lock()
	if st.processing {
		st.mu.Unlock()
		return ErrBusy
	}
	st.processing = true
	st.mu.Unlock()

	date := c.today()

	// Record first, then act: the user message is durable before anything
	// is broadcast or sent to the assistant.
	st.pub.Lock()
	userMsg, err := c.store.AddMessage(ctx, userID, date, store.RoleUser, text, photoTimestamp)
	if err != nil {
		st.pub.Unlock()
		c.setIdle(st)
		return fmt.Errorf("recording user message: %w", err)
	}

	c.logger.Debug("user message recorded",
		"user_id", userID,
		"date", date,
		"message_id", userMsg.ID,
		"message_number", userMsg.MessageNumber)

	// Tell viewers the assistant is thinking before the (slow) agent call
	c.registry.Broadcast(userID, stream.NewProcessingEvent())
	st.pub.Unlock()

	go c.runAgent(userID, date, text, st, status)

	return nil
}

// runAgent performs the assistant call and the second half of the cycle.
// It always ends with an `idle` broadcast and the state back at IDLE, no
// matter how the call or the persistence goes.
func (c *Coordinator) runAgent(userID, date, query string, st *userState, status agent.Status) {
	// LIFO: the state flips to IDLE first, then viewers hear about it, so a
	// client reacting to `idle` is never rejected as busy.
	defer c.registry.Broadcast(userID, stream.NewIdleEvent())
	defer c.setIdle(st)

	// The caller's request context is gone by now; the reply is computed
	// and persisted even if every viewer has disconnected, so it shows up
	// in the history snapshot on reconnect.
	ctx, cancel := context.WithTimeout(context.Background(), c.agentTimeout)
	defer cancel()

	reply, err := c.responder.Respond(ctx, userID, query)
	if err != nil {
		c.logger.Error("assistant call failed", "error", err, "user_id", userID)
		reply = fallbackReply
	}

	// A capture the assistant associated with this turn rides along on
	// the reply message.
	var photo *int64
	if status.HasPhoto {
		photo = status.PhotoTimestamp
	}

	st.pub.Lock()
	defer st.pub.Unlock()

	msg, perr := c.store.AddMessage(ctx, userID, date, store.RoleAssistant, reply, photo)
	if perr != nil {
		// Durability contract: viewers are never told about a message that
		// a reload could lose, so the broadcast is suppressed.
		c.logger.Error("failed to persist assistant message", "error", perr, "user_id", userID)
		return
	}

	c.logger.Debug("assistant message recorded",
		"user_id", userID,
		"date", date,
		"message_id", msg.ID,
		"message_number", msg.MessageNumber)

	c.registry.Broadcast(userID, stream.NewMessageEvent(userID, msg))
}

// setIdle transitions the user back to IDLE
func (c *Coordinator) setIdle(st *userState) {
	st.mu.Lock()
	st.processing = false
	st.mu.Unlock()
}

// Processing reports whether the user currently has a reply in flight
func (c *Coordinator) Processing(userID string) bool {
	c.mu.Lock()
	st, ok := c.users[userID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.processing
}

// UpdateMessage revises an already delivered message in place and tells
// live viewers via a message_update event. Number and order are unchanged.
func (c *Coordinator) UpdateMessage(ctx context.Context, userID, messageID, content string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if content == "" {
		return ErrEmptyMessage
	}

	st := c.state(userID)
	st.pub.Lock()
	defer st.pub.Unlock()

	date := c.today()
	if err := c.store.UpdateMessageContent(ctx, userID, date, messageID, content); err != nil {
		return err
	}

	c.registry.Broadcast(userID, stream.NewMessageUpdateEvent(messageID, content, nil))
	return nil
}

// History returns today's messages for the user, in conversation order.
// A user with no conversation today gets an empty history, not an error.
func (c *Coordinator) History(ctx context.Context, userID string) ([]*store.Message, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	conv, err := c.store.GetConversation(ctx, userID, c.today())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// RegisterStream sends the history snapshot to the new connection and then
// registers it for live events. The snapshot goes first so already-persisted
// messages are never replayed as live events on the same connection, and the
// whole sequence holds the user's publish lock so no event can land between
// the snapshot read and the registration.
func (c *Coordinator) RegisterStream(ctx context.Context, userID string, conn *stream.Conn) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	st := c.state(userID)
	st.pub.Lock()
	defer st.pub.Unlock()

	messages, err := c.History(ctx, userID)
	if err != nil {
		c.logger.Error("failed to load history snapshot", "error", err, "user_id", userID)
		messages = nil
	}
	c.registry.Send(conn, stream.NewHistoryEvent(userID, messages))
	c.registry.Register(userID, conn)

	c.logger.Debug("stream registered", "user_id", userID, "conn_id", conn.ID, "history", len(messages))
	return nil
}

// UnregisterStream removes a connection from the registry
func (c *Coordinator) UnregisterStream(userID string, conn *stream.Conn) {
	c.registry.Unregister(userID, conn)
}

// CleanupUser drops the user's cached state entry. Persisted conversations
// are untouched. A user mid-PROCESSING keeps their entry until the cycle
// finishes so the busy guard can't be reset by a disconnect.
func (c *Coordinator) CleanupUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.users[userID]
	if !ok {
		return
	}
	st.mu.Lock()
	processing := st.processing
	st.mu.Unlock()
	if processing {
		return
	}
	delete(c.users, userID)
}
