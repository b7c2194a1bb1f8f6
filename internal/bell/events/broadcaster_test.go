package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
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

func waitClients(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_PushesToAllClients(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(b)
	defer srv.Close()
	defer b.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitClients(t, b, 2)

	b.Handle(Event{Type: TypeTranscribed, SessionID: "s1", TurnID: "t1", Text: "hello"})

	for _, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)

		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		assert.Equal(t, "transcribed", m["type"])
		assert.Equal(t, "hello", m["text"])
		assert.Equal(t, "t1", m["turn_id"])
	}
}

func TestBroadcaster_DropsDisconnectedClient(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(b)
	defer srv.Close()
	defer b.Close()

	gone := dial(t, srv)
	stay := dial(t, srv)
	waitClients(t, b, 2)

	gone.Close()
	waitClients(t, b, 1)

	b.Handle(Event{Type: TypeSpeaking, SessionID: "s1"})

	stay.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := stay.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"speaking"`)
}
