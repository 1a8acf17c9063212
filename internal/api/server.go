// ABOUTME: HTTP server exposing the chat, stream, and conversation endpoints
// ABOUTME: Owns the mux, the http.Server lifecycle, and shared JSON helpers

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/halolens/glass-gateway/internal/chat"
	"github.com/halolens/glass-gateway/internal/store"
)

// Server is the HTTP boundary of the gateway
type Server struct {
	coordinator *chat.Coordinator
	store       store.Store
	logger      *slog.Logger

	keepaliveInterval time.Duration

	httpServer *http.Server
}

// Options tunes server behavior
type Options struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string
	// KeepaliveInterval is the SSE comment heartbeat period. Defaults to 30s.
	KeepaliveInterval time.Duration
}

// NewServer creates the HTTP server. Pass nil logger for default.
func NewServer(coordinator *chat.Coordinator, st store.Store, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}

	s := &Server{
		coordinator:       coordinator,
		store:             st,
		logger:            logger.With("component", "api"),
		keepaliveInterval: opts.KeepaliveInterval,
	}

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: s.Handler(),
		// No global write timeout: the SSE stream endpoint holds its
		// response open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routed handler, usable directly in tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat/send", s.handleChatSend)
	mux.HandleFunc("GET /api/chat/history", s.handleChatHistory)
	mux.HandleFunc("DELETE /api/chat/history", s.handleChatHistoryDelete)
	mux.HandleFunc("GET /api/chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /api/conversations", s.handleConversationList)
	mux.HandleFunc("GET /api/conversations/{date}", s.handleConversationGet)
	mux.HandleFunc("POST /api/conversations/{date}/read", s.handleConversationRead)

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.logRequests(mux)
}

// Start runs the server until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// logRequests is a minimal request log middleware
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// writeJSON writes a JSON response with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// writeError writes a JSON error body with the given status
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
