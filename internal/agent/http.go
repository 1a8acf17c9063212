// ABOUTME: HTTP-backed Responder calling the external assistant service
// ABOUTME: Wraps calls in a circuit breaker so a down assistant fails fast

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPResponder calls an external assistant endpoint over HTTP.
// A circuit breaker trips after repeated failures so the gateway stops
// stacking full-length timeouts against a dead assistant.
type HTTPResponder struct {
	endpoint   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// respondRequest is the JSON body posted to the assistant endpoint
type respondRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// respondResponse is the assistant's JSON reply
type respondResponse struct {
	Response string `json:"response"`
}

// statusResponse is the assistant's JSON status for one user
type statusResponse struct {
	Ready          bool   `json:"ready"`
	HasPhoto       bool   `json:"has_photo"`
	PhotoTimestamp *int64 `json:"photo_timestamp,omitempty"`
}

// NewHTTPResponder creates a Responder for the given assistant endpoint.
// Pass nil logger for default.
func NewHTTPResponder(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPResponder {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "assistant",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &HTTPResponder{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

// Respond posts the query to the assistant and returns its reply text
func (h *HTTPResponder) Respond(ctx context.Context, userID, query string) (string, error) {
	body, err := json.Marshal(respondRequest{UserID: userID, Query: query})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	result, err := h.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling assistant: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Drain so the connection can be reused
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("assistant returned status %d", resp.StatusCode)
		}

		var decoded respondResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		return decoded.Response, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			h.logger.Warn("assistant call rejected by circuit breaker", "user_id", userID)
			return "", ErrUnavailable
		}
		return "", err
	}

	return result.(string), nil
}

// Status fetches the assistant's readiness and photo flag for a user.
// Failures degrade to a not-ready status rather than an error.
func (h *HTTPResponder) Status(ctx context.Context, userID string) Status {
	if h.breaker.State() == gobreaker.StateOpen {
		return Status{}
	}

	statusURL := h.endpoint + "/status?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		h.logger.Error("creating status request", "error", err)
		return Status{}
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Debug("assistant status check failed", "error", err, "user_id", userID)
		return Status{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		h.logger.Debug("decoding assistant status", "error", err)
		return Status{}
	}

	return Status{
		Ready:          decoded.Ready,
		HasPhoto:       decoded.HasPhoto,
		PhotoTimestamp: decoded.PhotoTimestamp,
	}
}

var _ Responder = (*HTTPResponder)(nil)
