package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/pkg/workflows"
)

func newFeedServer(t *testing.T, m *Manager) string {
	t.Helper()
	actor := auth.Actor{ID: "p", Name: "Pat", Role: workflows.RoleProducer}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = m.HandleConnection(w, r, actor)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello Message
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, MessageTypeConnected, hello.Type)
	return conn
}

func TestManager_PingIsAnsweredWithPong(t *testing.T) {
	m := NewManager(zap.NewNop())
	t.Cleanup(m.Close)
	conn := dialFeed(t, newFeedServer(t, m))

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestManager_PingsAfterDisconnectAreDropped(t *testing.T) {
	m := NewManager(zap.NewNop())
	t.Cleanup(m.Close)
	url := newFeedServer(t, m)

	for i := 0; i < 5; i++ {
		conn := dialFeed(t, url)
		for j := 0; j < 20; j++ {
			_ = conn.WriteJSON(Message{Type: MessageTypePing})
		}
		_ = conn.Close()
	}
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// the hub is still serving
	conn := dialFeed(t, url)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestManager_PingsDuringShutdown(t *testing.T) {
	m := NewManager(zap.NewNop())
	conn := dialFeed(t, newFeedServer(t, m))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
				return
			}
		}
	}()
	m.Close()
	<-done

	assert.ErrorIs(t, m.Publish(uuid.New(), Message{Type: MessageTypeActivity}), ErrClosed)

	// the stopped hub closes Send, so the feed ends with a close frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
