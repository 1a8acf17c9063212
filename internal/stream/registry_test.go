// ABOUTME: Tests for the SSE connection registry fan-out
// ABOUTME: Covers register, broadcast, slow-consumer isolation, unregister cleanup

package stream

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halolens/glass-gateway/internal/store"
)

func recvPayload(t *testing.T, c *Conn) *Event {
	t.Helper()
	select {
	case payload, ok := <-c.Events():
		require.True(t, ok, "connection channel closed")
		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		return &ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRegistry_SingleConnectionReceivesEvent(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	conn := NewConn()
	r.Register("u1", conn)

	r.Broadcast("u1", NewProcessingEvent())

	ev := recvPayload(t, conn)
	assert.Equal(t, EventProcessing, ev.Type)
}

func TestRegistry_MultipleConnectionsReceiveSameEvent(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	conns := []*Conn{NewConn(), NewConn(), NewConn()}
	for _, c := range conns {
		r.Register("u1", c)
	}

	r.Broadcast("u1", NewIdleEvent())

	for i, c := range conns {
		ev := recvPayload(t, c)
		assert.Equal(t, EventIdle, ev.Type, "connection %d got wrong event", i)
	}
}

func TestRegistry_UsersAreIsolated(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	c1 := NewConn()
	c2 := NewConn()
	r.Register("u1", c1)
	r.Register("u2", c2)

	r.Broadcast("u1", NewProcessingEvent())

	ev := recvPayload(t, c1)
	assert.Equal(t, EventProcessing, ev.Type)

	select {
	case <-c2.Events():
		t.Fatal("u2's connection received u1's event")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	conn := NewConn()
	r.Register("u1", conn)
	r.Register("u1", conn)

	r.Broadcast("u1", NewProcessingEvent())

	recvPayload(t, conn)

	// Set semantics: the second Register must not cause a second delivery
	select {
	case <-conn.Events():
		t.Fatal("event delivered twice to the same connection")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	slow := NewConn()
	healthy := NewConn()
	r.Register("u1", slow)
	r.Register("u1", healthy)

	// Fill the slow connection's buffer so further sends would drop
	for i := 0; i < connBufferSize; i++ {
		r.Send(slow, NewProcessingEvent())
	}

	r.Broadcast("u1", NewIdleEvent())

	// The healthy connection still gets the broadcast
	ev := recvPayload(t, healthy)
	assert.Equal(t, EventIdle, ev.Type)
}

func TestRegistry_UnregisterStopsDelivery(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	removed := NewConn()
	kept := NewConn()
	r.Register("u1", removed)
	r.Register("u1", kept)

	r.Unregister("u1", removed)

	r.Broadcast("u1", NewProcessingEvent())

	ev := recvPayload(t, kept)
	assert.Equal(t, EventProcessing, ev.Type)

	// The removed connection's channel is closed and received nothing
	payload, ok := <-removed.Events()
	assert.False(t, ok)
	assert.Nil(t, payload)
}

func TestRegistry_UnregisterTwiceIsSafe(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	conn := NewConn()
	r.Register("u1", conn)
	r.Unregister("u1", conn)
	r.Unregister("u1", conn) // must not panic on double close
}

func TestRegistry_UnregisterDuringBroadcastIsSafe(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	// A steady set of receivers keeps the broadcast loop hot
	for i := 0; i < 8; i++ {
		r.Register("u1", NewConn())
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Broadcast("u1", NewIdleEvent())
			}
		}
	}()

	// Connections coming and going while broadcasts are in flight must
	// never hit a closed channel
	for i := 0; i < 2000; i++ {
		conn := NewConn()
		r.Register("u1", conn)
		r.Unregister("u1", conn)
	}

	close(stop)
	wg.Wait()
}

func TestRegistry_HasConnections(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	assert.False(t, r.HasConnections("u1"))

	conn := NewConn()
	r.Register("u1", conn)
	assert.True(t, r.HasConnections("u1"))

	r.Unregister("u1", conn)
	assert.False(t, r.HasConnections("u1"), "empty user entry should be removed")
}

func TestRegistry_BroadcastWithNoConnections(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	// Must not panic or block
	r.Broadcast("nobody", NewIdleEvent())
}

func TestEvent_MessageWireShape(t *testing.T) {
	ts := int64(1756100000)
	msg := &store.Message{
		ID:             "m1",
		MessageNumber:  2,
		Role:           store.RoleAssistant,
		Content:        "hi there",
		PhotoTimestamp: &ts,
		Timestamp:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}

	ev := NewMessageEvent("u1", msg)
	payload, err := ev.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "message", decoded["type"])
	assert.Equal(t, "m1", decoded["id"])
	assert.Equal(t, "assistant", decoded["senderId"])
	assert.Equal(t, "u1", decoded["recipientId"])
	assert.Equal(t, "hi there", decoded["content"])
	assert.Equal(t, "2026-08-25T12:00:00Z", decoded["timestamp"])
	assert.Equal(t, float64(ts), decoded["image"])
}

func TestEvent_UserMessageAddressing(t *testing.T) {
	msg := &store.Message{
		ID:        "m1",
		Role:      store.RoleUser,
		Content:   "hello",
		Timestamp: time.Now(),
	}

	ev := NewMessageEvent("u1", msg)
	assert.Equal(t, "u1", ev.SenderID)
	assert.Equal(t, AssistantSender, ev.RecipientID)
}

func TestEvent_HistoryOmitsEmptyFields(t *testing.T) {
	ev := NewHistoryEvent("u1", []*store.Message{
		{ID: "m1", MessageNumber: 1, Role: store.RoleUser, Content: "hello", Timestamp: time.Now()},
	})
	payload, err := ev.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "history", decoded["type"])
	require.Len(t, decoded["messages"], 1)
	// The envelope's message/message_update fields stay absent
	assert.NotContains(t, decoded, "id")
	assert.NotContains(t, decoded, "content")
}

func TestEvent_EmptyHistoryKeepsMessagesArray(t *testing.T) {
	ev := NewHistoryEvent("u1", nil)
	payload, err := ev.Marshal()
	require.NoError(t, err)

	// A fresh day serializes as an empty array, not a missing field
	assert.Contains(t, string(payload), `"messages":[]`)
}

func TestEvent_ProcessingAndIdleAreBare(t *testing.T) {
	for _, ev := range []*Event{NewProcessingEvent(), NewIdleEvent()} {
		payload, err := ev.Marshal()
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Len(t, decoded, 1, "expected only the type field, got %s", payload)
	}
}
