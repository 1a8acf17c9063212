// ABOUTME: SSE stream handler delivering conversation events to glasses clients
// ABOUTME: Frames every event as `data: <JSON>` and sends comment keepalives

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/halolens/glass-gateway/internal/stream"
)

// handleChatStream serves GET /api/chat/stream as a Server-Sent Events
// stream. The first event is the history snapshot, then live events as the
// coordinator broadcasts them, interleaved with comment keepalives so
// proxies don't drop the idle connection.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disables nginx response buffering, which would hold events back
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := stream.NewConn()
	if err := s.coordinator.RegisterStream(r.Context(), userID, conn); err != nil {
		s.logger.Error("registering stream", "error", err, "user_id", userID)
		return
	}
	defer s.coordinator.UnregisterStream(userID, conn)

	s.logger.Info("stream connected", "user_id", userID, "conn_id", conn.ID)
	defer s.logger.Info("stream disconnected", "user_id", userID, "conn_id", conn.ID)

	keepalive := time.NewTicker(s.keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case payload, ok := <-conn.Events():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
