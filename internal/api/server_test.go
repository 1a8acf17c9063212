// ABOUTME: Tests for the HTTP API and the SSE stream endpoint
// ABOUTME: Runs against a real SQLite store with a canned assistant

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halolens/glass-gateway/internal/agent"
	"github.com/halolens/glass-gateway/internal/chat"
	"github.com/halolens/glass-gateway/internal/store"
	"github.com/halolens/glass-gateway/internal/stream"
)

type testEnv struct {
	server      *httptest.Server
	store       store.Store
	coordinator *chat.Coordinator
}

func newTestEnv(t *testing.T, responder agent.Responder) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := stream.NewRegistry(nil)
	coordinator := chat.New(st, registry, responder, nil, chat.Options{AgentTimeout: 2 * time.Second})

	srv := NewServer(coordinator, st, nil, Options{KeepaliveInterval: 50 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, coordinator: coordinator}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) waitIdle(t *testing.T, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !e.coordinator.Processing(userID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("user never returned to idle")
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok"})

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestChatSend_Accepted(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "hi there"})

	resp := env.postJSON(t, "/api/chat/send", map[string]any{
		"userId":  "u1",
		"message": "hello",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "processing", body["status"])

	env.waitIdle(t, "u1")

	histResp, err := http.Get(env.server.URL + "/api/chat/history?userId=u1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, histResp.StatusCode)
	hist := decodeBody(t, histResp)
	messages, ok := hist["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]any)
	assert.Equal(t, "u1", first["senderId"])
	assert.Equal(t, "assistant", first["recipientId"])
	assert.Equal(t, "hello", first["content"])
	assert.Equal(t, float64(1), first["messageNumber"])

	second := messages[1].(map[string]any)
	assert.Equal(t, "assistant", second["senderId"])
	assert.Equal(t, "hi there", second["content"])
	assert.Equal(t, float64(2), second["messageNumber"])
}

func TestChatSend_Validation(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok"})

	resp := env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.postJSON(t, "/api/chat/send", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	badResp, err := http.Post(env.server.URL+"/api/chat/send", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
	badResp.Body.Close()
}

func TestChatSend_BusyConflict(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "slow", Delay: 300 * time.Millisecond})

	resp := env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "first"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "second"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	env.waitIdle(t, "u1")
}

func TestChatSend_AgentNotReady(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok", NotReady: true})

	resp := env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestChatHistory_RequiresUserID(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok"})

	resp, err := http.Get(env.server.URL + "/api/chat/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestChatHistory_Delete(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "hi"})

	resp := env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "hello"})
	resp.Body.Close()
	env.waitIdle(t, "u1")

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/chat/history?userId=u1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
	delResp.Body.Close()

	histResp, err := http.Get(env.server.URL + "/api/chat/history?userId=u1")
	require.NoError(t, err)
	hist := decodeBody(t, histResp)
	assert.Empty(t, hist["messages"])
}

func TestConversations_ListGetRead(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "hi"})

	resp := env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "hello"})
	resp.Body.Close()
	env.waitIdle(t, "u1")

	listResp, err := http.Get(env.server.URL + "/api/conversations?userId=u1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	list := decodeBody(t, listResp)
	conversations, ok := list["conversations"].([]any)
	require.True(t, ok)
	require.Len(t, conversations, 1)

	entry := conversations[0].(map[string]any)
	date := entry["date"].(string)
	assert.True(t, entry["hasUnread"].(bool))
	assert.Equal(t, float64(2), entry["messageCount"])
	assert.NotEmpty(t, entry["title"])

	getResp, err := http.Get(env.server.URL + "/api/conversations/" + date + "?userId=u1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	conv := decodeBody(t, getResp)
	assert.Equal(t, date, conv["date"])
	msgs, ok := conv["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)

	readResp, err := http.Post(env.server.URL+"/api/conversations/"+date+"/read?userId=u1", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, readResp.StatusCode)
	readResp.Body.Close()

	listResp, err = http.Get(env.server.URL + "/api/conversations?userId=u1")
	require.NoError(t, err)
	list = decodeBody(t, listResp)
	entry = list["conversations"].([]any)[0].(map[string]any)
	assert.False(t, entry["hasUnread"].(bool))
}

func TestConversations_NotFound(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok"})

	resp, err := http.Get(env.server.URL + "/api/conversations/2020-01-01?userId=u1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	readResp, err := http.Post(env.server.URL+"/api/conversations/2020-01-01/read?userId=u1", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, readResp.StatusCode)
	readResp.Body.Close()
}

// sseFrame is one parsed frame off the stream: either a data payload or a
// comment line.
type sseFrame struct {
	data    string
	comment string
}

// readFrame reads one SSE frame (terminated by a blank line)
func readFrame(t *testing.T, reader *bufio.Reader) sseFrame {
	t.Helper()
	var frame sseFrame
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if frame.data != "" || frame.comment != "" {
				return frame
			}
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			frame.data = strings.TrimPrefix(line, "data: ")
		} else if strings.HasPrefix(line, ":") {
			frame.comment = line
		}
	}
}

// readEvent reads frames until one carries a data payload, skipping
// keepalive comments, and returns the decoded event.
func readEvent(t *testing.T, reader *bufio.Reader) map[string]any {
	t.Helper()
	for {
		frame := readFrame(t, reader)
		if frame.data == "" {
			continue
		}
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(frame.data), &decoded))
		return decoded
	}
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "streamed answer", Delay: 50 * time.Millisecond})

	// Seed one message so the snapshot has content
	resp := env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "earlier"})
	resp.Body.Close()
	env.waitIdle(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/chat/stream?userId=u1", nil)
	require.NoError(t, err)
	streamResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer streamResp.Body.Close()

	assert.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Equal(t, "text/event-stream", streamResp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", streamResp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", streamResp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(streamResp.Body)

	// First event is always the history snapshot
	event := readEvent(t, reader)
	assert.Equal(t, "history", event["type"])
	messages, ok := event["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)

	// A new message produces processing -> message -> idle, in order
	resp = env.postJSON(t, "/api/chat/send", map[string]any{"userId": "u1", "message": "question"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	event = readEvent(t, reader)
	assert.Equal(t, "processing", event["type"])

	event = readEvent(t, reader)
	assert.Equal(t, "message", event["type"])
	assert.Equal(t, "streamed answer", event["content"])
	assert.Equal(t, "assistant", event["senderId"])
	assert.Equal(t, "u1", event["recipientId"])

	event = readEvent(t, reader)
	assert.Equal(t, "idle", event["type"])

	env.waitIdle(t, "u1")
}

func TestChatStream_Keepalive(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/chat/stream?userId=u1", nil)
	require.NoError(t, err)
	streamResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer streamResp.Body.Close()

	reader := bufio.NewReader(streamResp.Body)

	// Snapshot first, then a comment keepalive within a few intervals
	frame := readFrame(t, reader)
	require.NotEmpty(t, frame.data)
	assert.Contains(t, frame.data, `"type":"history"`)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		frame = readFrame(t, reader)
		if frame.comment != "" {
			assert.Equal(t, ": keepalive", frame.comment)
			return
		}
	}
	t.Fatal("no keepalive observed")
}

func TestChatStream_RequiresUserID(t *testing.T) {
	env := newTestEnv(t, &agent.StaticResponder{Reply: "ok"})

	resp, err := http.Get(env.server.URL + "/api/chat/stream")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
