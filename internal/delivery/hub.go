package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/meleki1/salesagent/internal/metrics"
)

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Event is one JSON frame pushed to a chat client.
type Event struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Intent  string         `json:"intent,omitempty"`
	Action  string         `json:"action,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Hub tracks live websocket connections per session. A session may have
// several tabs open; each registers under its own connection id.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]Conn),
	}
}

// Get returns the connection registered for a session and connection id.
func (h *Hub) Get(sessionID, connID string) Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.active[sessionID]; ok {
		return conns[connID]
	}
	return nil
}

// Count returns the number of live connections for a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// Register adds a connection, replacing and closing any previous one with the same id.
func (h *Hub) Register(sessionID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[string]Conn)
	}

	if existing, exists := h.active[sessionID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	} else {
		metrics.LiveConnections.Inc()
	}

	h.active[sessionID][connID] = conn
	slog.Info("Chat connection registered", "session_id", sessionID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (h *Hub) Unregister(sessionID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[sessionID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.active, sessionID)
			}
			metrics.LiveConnections.Dec()
			slog.Info("Chat connection unregistered", "session_id", sessionID, "conn_id", connID)
		}
	}
}

// Send writes ev to every connection of the session and returns how many
// received it.
func (h *Hub) Send(ctx context.Context, sessionID string, ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode chat event", "error", err, "session_id", sessionID)
		return 0
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.active[sessionID]))
	for _, c := range h.active[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Chat push failed", "error", err, "session_id", sessionID)
			continue
		}
		sent++
	}
	return sent
}

// Notify pushes an assistant message. It fails with ErrNoRecipient when no tab is open.
func (h *Hub) Notify(ctx context.Context, sessionID, _ string, text string) error {
	if h.Send(ctx, sessionID, Event{Type: "message", Content: text}) == 0 {
		return ErrNoRecipient
	}
	return nil
}

// CloseAll terminates every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sid, conns := range h.active {
		for _, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			metrics.LiveConnections.Dec()
		}
		delete(h.active, sid)
	}
}
