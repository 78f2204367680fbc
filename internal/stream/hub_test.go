package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_SnapshotThenBroadcast(t *testing.T) {
	// Arrange
	h := NewHub(nil, func() Event { return Event{Type: TypeSnapshot, Data: map[string]int{"holdings": 2}} })
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)

	// Assert: snapshot arrives first
	ev := readEvent(t, conn)
	require.Equal(t, TypeSnapshot, ev["type"])

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	h.Publish(Event{Type: TypeRefresh, Data: "ok"})

	// Assert
	ev = readEvent(t, conn)
	require.Equal(t, TypeRefresh, ev["type"])
	require.Equal(t, "ok", ev["data"])
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	h := NewHub(nil, nil)
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_StopIsIdempotent(t *testing.T) {
	h := NewHub(nil, nil)
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	h.Stop()
	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	// Publishing after stop must not block.
	h.Publish(Event{Type: TypeRefresh})
}
