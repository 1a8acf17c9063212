// ABOUTME: Responder interface between the conversation core and the external assistant
// ABOUTME: The core only consumes (userID, query) -> reply text plus a status snapshot

package agent

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the assistant cannot be reached
var ErrUnavailable = errors.New("assistant unavailable")

// Status is a point-in-time snapshot of the assistant for one user
type Status struct {
	// Ready reports whether the assistant can accept a query right now
	Ready bool
	// HasPhoto reports whether a recent camera capture is associated
	// with the user's next turn
	HasPhoto bool
	// PhotoTimestamp is the Unix time of that capture when HasPhoto is set
	PhotoTimestamp *int64
}

// Responder produces assistant replies. Implementations may take seconds per
// call; callers are expected to bound Respond with a context deadline.
type Responder interface {
	Respond(ctx context.Context, userID, query string) (string, error)
	Status(ctx context.Context, userID string) Status
}

// StaticResponder is a canned Responder for tests and local development
type StaticResponder struct {
	Reply    string
	Err      error
	Delay    time.Duration
	Photo    *int64
	NotReady bool
}

// Respond returns the canned reply after the configured delay
func (s *StaticResponder) Respond(ctx context.Context, userID, query string) (string, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

// Status reports the canned readiness and photo flag
func (s *StaticResponder) Status(ctx context.Context, userID string) Status {
	return Status{
		Ready:          !s.NotReady,
		HasPhoto:       s.Photo != nil,
		PhotoTimestamp: s.Photo,
	}
}

var _ Responder = (*StaticResponder)(nil)
