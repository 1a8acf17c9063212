// ABOUTME: Tests for the HTTP-backed Responder
// ABOUTME: Covers reply decoding, error mapping, status checks, and breaker behavior

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPResponder_Respond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req["user_id"])
		assert.Equal(t, "hello", req["query"])

		json.NewEncoder(w).Encode(map[string]string{"response": "hi there"})
	}))
	defer srv.Close()

	responder := NewHTTPResponder(srv.URL, 5*time.Second, nil)

	reply, err := responder.Respond(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
}

func TestHTTPResponder_RespondNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	responder := NewHTTPResponder(srv.URL, 5*time.Second, nil)

	_, err := responder.Respond(context.Background(), "u1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPResponder_BreakerTripsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	responder := NewHTTPResponder(srv.URL, 5*time.Second, nil)

	// Five consecutive failures open the breaker
	for i := 0; i < 5; i++ {
		_, err := responder.Respond(context.Background(), "u1", "hello")
		require.Error(t, err)
	}

	_, err := responder.Respond(context.Background(), "u1", "hello")
	assert.ErrorIs(t, err, ErrUnavailable)

	// Open breaker also reads as not ready
	status := responder.Status(context.Background(), "u1")
	assert.False(t, status.Ready)
}

func TestHTTPResponder_Status(t *testing.T) {
	ts := int64(1756100000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"ready":           true,
			"has_photo":       true,
			"photo_timestamp": ts,
		})
	}))
	defer srv.Close()

	responder := NewHTTPResponder(srv.URL, 5*time.Second, nil)

	status := responder.Status(context.Background(), "u1")
	assert.True(t, status.Ready)
	assert.True(t, status.HasPhoto)
	require.NotNil(t, status.PhotoTimestamp)
	assert.Equal(t, ts, *status.PhotoTimestamp)
}

func TestHTTPResponder_StatusDegradesOnFailure(t *testing.T) {
	responder := NewHTTPResponder("http://127.0.0.1:1", time.Second, nil)

	status := responder.Status(context.Background(), "u1")
	assert.False(t, status.Ready)
	assert.False(t, status.HasPhoto)
}

func TestStaticResponder(t *testing.T) {
	ts := int64(42)
	responder := &StaticResponder{Reply: "canned", Photo: &ts}

	reply, err := responder.Respond(context.Background(), "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, "canned", reply)

	status := responder.Status(context.Background(), "u1")
	assert.True(t, status.Ready)
	assert.True(t, status.HasPhoto)
}

func TestStaticResponder_RespectsContext(t *testing.T) {
	responder := &StaticResponder{Reply: "late", Delay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := responder.Respond(ctx, "u1", "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
