// Package websocket pushes session snapshots to connected editor clients.
// A single goroutine owns all hub state; every interaction goes through the
// command channel, so no locks are needed.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/metrics"
)

const (
	maxClientsPerSession = 16
	writeDeadline        = 5 * time.Second
)

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	sessionID uuid.UUID
	conn      *websocket.Conn
	errCh     chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	sessionID uuid.UUID
	conn      *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	sessionID uuid.UUID
	data      []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdClientCount struct {
	sessionID uuid.UUID
	replyCh   chan int
}

func (cmdClientCount) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// --- Per-connection writer ---

type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}

// --- Hub ---

// Hub fans session snapshots out to every client watching a session.
type Hub struct {
	cmdCh   chan hubCmd
	clients map[uuid.UUID]map[*websocket.Conn]*clientWriter
}

func NewHub() *Hub {
	hub := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		clients: make(map[uuid.UUID]map[*websocket.Conn]*clientWriter),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.sessionID, c.conn)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdClientCount:
			c.replyCh <- len(h.clients[c.sessionID])
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	clients, exists := h.clients[c.sessionID]
	if !exists {
		clients = make(map[*websocket.Conn]*clientWriter)
		h.clients[c.sessionID] = clients
	}

	if len(clients) >= maxClientsPerSession {
		slog.Warn("Rejecting event stream client: session full",
			"session_id", c.sessionID, "max_clients", maxClientsPerSession)
		c.conn.Close()
		c.errCh <- fmt.Errorf("max clients per session (%d) reached", maxClientsPerSession)
		return
	}

	clients[c.conn] = newClientWriter(c.conn)
	metrics.EventStreamClients.Inc()
	slog.Debug("Event stream client registered", "session_id", c.sessionID, "total_clients", len(clients))
	c.errCh <- nil
}

func (h *Hub) handleUnregister(sessionID uuid.UUID, conn *websocket.Conn) {
	clients, exists := h.clients[sessionID]
	if !exists {
		return
	}

	cw, exists := clients[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, conn)
	metrics.EventStreamClients.Dec()

	if len(clients) == 0 {
		delete(h.clients, sessionID)
	}
	slog.Debug("Event stream client unregistered", "session_id", sessionID, "remaining_clients", len(clients))
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	clients, exists := h.clients[c.sessionID]
	if !exists {
		return
	}

	var slow []*websocket.Conn
	for conn, cw := range clients {
		select {
		case cw.sendCh <- c.data:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow event stream client", "session_id", c.sessionID)
		h.handleUnregister(c.sessionID, conn)
	}
}

func (h *Hub) handleStop() {
	for sessionID, clients := range h.clients {
		for conn, cw := range clients {
			cw.stop()
			delete(clients, conn)
			metrics.EventStreamClients.Dec()
		}
		delete(h.clients, sessionID)
	}
}

// --- Public API ---

// Register attaches a connection to a session's event stream.
func (h *Hub) Register(sessionID uuid.UUID, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- cmdRegister{sessionID: sessionID, conn: conn, errCh: errCh}
	return <-errCh
}

// Unregister detaches a connection. Safe to call for unknown connections.
func (h *Hub) Unregister(sessionID uuid.UUID, conn *websocket.Conn) {
	h.cmdCh <- cmdUnregister{sessionID: sessionID, conn: conn}
}

// ClientCount reports how many clients watch a session.
func (h *Hub) ClientCount(sessionID uuid.UUID) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdClientCount{sessionID: sessionID, replyCh: replyCh}
	return <-replyCh
}

// Stop closes every connection and shuts the hub down.
func (h *Hub) Stop() {
	h.cmdCh <- cmdStop{}
}

// --- Event publishing ---

type event struct {
	Type    string          `json:"type"`
	Session domain.Snapshot `json:"session"`
}

var _ domain.EventPublisher = (*Hub)(nil)

// PublishSessionUpdated broadcasts a snapshot to every client watching the
// session.
func (h *Hub) PublishSessionUpdated(_ context.Context, snap domain.Snapshot) {
	data, err := json.Marshal(event{Type: "session_updated", Session: snap})
	if err != nil {
		slog.Error("Could not marshal session event", "session_id", snap.SessionID, "error", err)
		return
	}
	h.cmdCh <- cmdBroadcast{sessionID: snap.SessionID, data: data}
}
