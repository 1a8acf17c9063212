// ABOUTME: Request handlers for chat send/history and conversation endpoints
// ABOUTME: Maps coordinator and store errors to HTTP status codes

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/halolens/glass-gateway/internal/chat"
	"github.com/halolens/glass-gateway/internal/store"
	"github.com/halolens/glass-gateway/internal/stream"
)

// sendRequest is the body of POST /api/chat/send
type sendRequest struct {
	UserID         string `json:"userId"`
	Message        string `json:"message"`
	PhotoTimestamp *int64 `json:"photoTimestamp,omitempty"`
}

// conversationSummary is one entry of the conversation list response
type conversationSummary struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	Title        string `json:"title"`
	HasUnread    bool   `json:"hasUnread"`
	MessageCount int    `json:"messageCount"`
}

// conversationResponse is the full single-conversation response
type conversationResponse struct {
	ID        string               `json:"id"`
	Date      string               `json:"date"`
	Title     string               `json:"title"`
	HasUnread bool                 `json:"hasUnread"`
	Messages  []stream.WireMessage `json:"messages"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.coordinator.ProcessMessage(r.Context(), req.UserID, req.Message, req.PhotoTimestamp)
	switch {
	case err == nil:
		// Accepted, not completed: the reply arrives on the stream
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
	case errors.Is(err, chat.ErrEmptyUserID), errors.Is(err, chat.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrAgentNotReady):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("processing message", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process message")
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	messages, err := s.coordinator.History(r.Context(), userID)
	if err != nil {
		s.logger.Error("loading history", "error", err, "user_id", userID)
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	wire := make([]stream.WireMessage, len(messages))
	for i, m := range messages {
		wire[i] = stream.MessageFromStore(userID, m)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": wire})
}

func (s *Server) handleChatHistoryDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := s.store.DeleteConversations(r.Context(), userID); err != nil {
		s.logger.Error("deleting conversations", "error", err, "user_id", userID)
		s.writeError(w, http.StatusInternalServerError, "failed to delete history")
		return
	}
	s.coordinator.CleanupUser(userID)

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	conversations, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing conversations", "error", err, "user_id", userID)
		s.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	summaries := make([]conversationSummary, len(conversations))
	for i, conv := range conversations {
		summaries[i] = conversationSummary{
			ID:           conv.ID,
			Date:         conv.Date,
			Title:        conv.Title,
			HasUnread:    conv.HasUnread,
			MessageCount: len(conv.Messages),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	date := r.PathValue("date")

	conv, err := s.store.GetConversation(r.Context(), userID, date)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("loading conversation", "error", err, "user_id", userID, "date", date)
		s.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	wire := make([]stream.WireMessage, len(conv.Messages))
	for i, m := range conv.Messages {
		wire[i] = stream.MessageFromStore(userID, m)
	}
	s.writeJSON(w, http.StatusOK, conversationResponse{
		ID:        conv.ID,
		Date:      conv.Date,
		Title:     conv.Title,
		HasUnread: conv.HasUnread,
		Messages:  wire,
	})
}

func (s *Server) handleConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	date := r.PathValue("date")

	err := s.store.MarkRead(r.Context(), userID, date)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("marking conversation read", "error", err, "user_id", userID, "date", date)
		s.writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
