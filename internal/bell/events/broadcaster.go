// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     events
// Description: WebSocket broadcaster for session events
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/msto63/bell/pkg/core/logging"
)

// DefaultWriteTimeout bounds a single write to an observer
const DefaultWriteTimeout = 2 * time.Second

// Broadcaster pushes every event as JSON to all connected websocket observers.
// Observers are read-only; inbound messages are discarded.
type Broadcaster struct {
	mu           sync.Mutex
	clients      map[*websocket.Conn]struct{}
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *logging.Logger
}

// NewBroadcaster creates a broadcaster with permissive origin checks for local use
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		writeTimeout: DefaultWriteTimeout,
		logger:       logging.New("bell-websocket"),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the peer leaves
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()
	b.logger.Info("Observer connected", "remote", conn.RemoteAddr().String())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Warn("WebSocket read error", "error", err)
			}
			break
		}
	}
	b.drop(conn)
	b.logger.Info("Observer disconnected", "remote", conn.RemoteAddr().String())
}

// Handle is an events.Listener that forwards ev to every observer.
// A client whose write fails is dropped.
func (b *Broadcaster) Handle(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to encode event", "type", string(ev.Type), "error", err)
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(b.writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn("Dropping observer after failed write", "remote", c.RemoteAddr().String(), "error", err)
			b.drop(c)
		}
	}
}

// Clients returns the number of connected observers
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every observer
func (b *Broadcaster) Close() {
	b.mu.Lock()
	conns := b.clients
	b.clients = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	for c := range conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(b.writeTimeout))
		c.Close()
	}
}

func (b *Broadcaster) drop(c *websocket.Conn) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()
	if ok {
		c.Close()
	}
}
