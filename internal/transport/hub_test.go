package transport

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mellongo/internal/registry"
	"github.com/vk/mellongo/internal/scheduler"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

func dialHub(t *testing.T, serverURL, sid string) (*socket.Socket, <-chan map[string]any) {
	t.Helper()
	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)
	if sid != "" {
		opts.SetQuery(url.Values{"sid": {sid}})
	}

	manager := socket.NewManager(serverURL, opts)
	io := manager.Socket("/", opts)
	messages := make(chan map[string]any, 16)
	io.On(types.EventName(MessageEvent), func(args ...any) {
		if m, ok := firstMap(args); ok {
			messages <- m
		}
	})
	io.Connect()
	t.Cleanup(func() { io.Disconnect() })
	return io, messages
}

func next(t *testing.T, messages <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m := <-messages:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestHub(t *testing.T) {
	logger := discardLogger()
	hub := NewHub(logger, nil)
	srv := NewServer("", hub, &fakeScheduler{}, registry.New(), nil, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	t.Run("welcome echoes the requested session", func(t *testing.T) {
		_, messages := dialHub(t, ts.URL, "session-a")
		welcome := next(t, messages)
		assert.Equal(t, "welcome", welcome["type"])
		assert.Equal(t, "session-a", welcome["sid"])
	})

	t.Run("welcome assigns a session when none is given", func(t *testing.T) {
		_, messages := dialHub(t, ts.URL, "")
		welcome := next(t, messages)
		assert.Equal(t, "welcome", welcome["type"])
		assert.NotEmpty(t, welcome["sid"])
	})

	t.Run("ping and invalid messages", func(t *testing.T) {
		io, messages := dialHub(t, ts.URL, "session-b")
		require.Equal(t, "welcome", next(t, messages)["type"])

		require.NoError(t, io.Emit(MessageEvent, map[string]any{"type": "ping"}))
		assert.Equal(t, "pong", next(t, messages)["type"])

		require.NoError(t, io.Emit(MessageEvent, map[string]any{"type": "bogus"}))
		bad := next(t, messages)
		assert.Equal(t, "error", bad["type"])
		assert.Equal(t, "An unexpected error occurred", bad["message"])
	})

	t.Run("notify reaches only the session", func(t *testing.T) {
		_, mine := dialHub(t, ts.URL, "session-c")
		_, other := dialHub(t, ts.URL, "session-d")
		require.Equal(t, "welcome", next(t, mine)["type"])
		require.Equal(t, "welcome", next(t, other)["type"])

		hub.Notify(context.Background(), "session-c", scheduler.Event{Type: scheduler.EventExecuted, NodeID: "n1", Time: "0.01"})
		ev := next(t, mine)
		assert.Equal(t, "executed", ev["type"])
		assert.Equal(t, "n1", ev["nodeId"])

		select {
		case m := <-other:
			t.Fatalf("unexpected message for another session: %v", m)
		case <-time.After(200 * time.Millisecond):
		}
	})
}
