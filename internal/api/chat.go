package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/meleki1/salesagent/internal/delivery"
	"github.com/meleki1/salesagent/internal/dialog"
	"github.com/meleki1/salesagent/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Amount    int64  `json:"amount,omitempty"`
}

type chatResponse struct {
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	Intent    string         `json:"intent"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data"`
}

func newChatResponse(sessionID string, reply dialog.Reply) chatResponse {
	data := reply.Data
	if data == nil {
		data = map[string]any{}
	}
	return chatResponse{
		SessionID: sessionID,
		Reply:     reply.Text,
		Intent:    string(reply.Intent),
		Action:    string(reply.Action),
		Data:      data,
	}
}

// Chat handles one message over plain HTTP.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, ok := identity.Sanitize(req.SessionID)
	if !ok {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Amount < 0 {
		Error(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if !h.Limiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}

	reply, err := h.Dialog.HandleMessage(r.Context(), dialog.Message{
		SessionID: sessionID,
		Text:      req.Message,
		Channel:   delivery.ChannelWeb,
		Amount:    req.Amount,
	})
	if err != nil {
		slog.Error("Chat turn failed", "session_id", sessionID, "error", err)
		Error(w, statusFor(err), "failed to process message")
		return
	}
	JSON(w, http.StatusOK, newChatResponse(sessionID, reply))
}

// wsFrame is an inbound websocket chat frame.
type wsFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Amount  int64  `json:"amount,omitempty"`
}

// ChatWS serves the websocket chat. Every "message" frame gets at most one
// "reply" frame; payment confirmations arrive as "message" frames pushed by
// the hub.
func (h *Handler) ChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if id, ok := identity.Sanitize(r.URL.Query().Get("session_id")); ok {
		sessionID = id
	}
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(maxRequestBodySize)

	connID := uuid.NewString()
	h.Hub.Register(sessionID, connID, ws)
	defer h.Hub.Unregister(sessionID, connID, ws)
	slog.Info("Chat connection opened", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ctx := r.Context()
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.writeEvent(ctx, ws, delivery.Event{Type: "error", Content: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			h.writeEvent(ctx, ws, delivery.Event{Type: "pong"})
		case "message":
			h.handleFrame(ctx, ws, sessionID, frame)
		default:
			h.writeEvent(ctx, ws, delivery.Event{Type: "error", Content: "unknown frame type"})
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, ws *websocket.Conn, sessionID string, frame wsFrame) {
	if frame.Content == "" {
		h.writeEvent(ctx, ws, delivery.Event{Type: "error", Content: "message is required"})
		return
	}
	if !h.Limiter.Allow(sessionID) {
		h.writeEvent(ctx, ws, delivery.Event{Type: "error", Content: "too many messages, slow down"})
		return
	}
	reply, err := h.Dialog.HandleMessage(ctx, dialog.Message{
		SessionID: sessionID,
		Text:      frame.Content,
		Channel:   delivery.ChannelWeb,
		Amount:    frame.Amount,
	})
	if err != nil {
		slog.Error("Chat turn failed", "session_id", sessionID, "error", err)
		h.writeEvent(ctx, ws, delivery.Event{Type: "error", Content: "failed to process message"})
		return
	}
	if reply.Kind == dialog.KindSilent {
		return
	}
	h.writeEvent(ctx, ws, delivery.Event{
		Type:    "reply",
		Content: reply.Text,
		Intent:  string(reply.Intent),
		Action:  string(reply.Action),
		Data:    reply.Data,
	})
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev delivery.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode websocket event", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, payload); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.AllowedOrigin == "" || h.AllowedOrigin == "*" {
		return true
	}
	if origin == h.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.AllowedOrigin)
	return false
}
