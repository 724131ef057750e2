// Package api provides HTTP handlers for the sales assistant.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meleki1/salesagent/internal/delivery"
	"github.com/meleki1/salesagent/internal/dialog"
	"github.com/meleki1/salesagent/internal/identity"
	"github.com/meleki1/salesagent/internal/reconcile"
	"github.com/meleki1/salesagent/internal/session"
)

// maxRequestBodySize caps JSON and webhook bodies (1MB).
const maxRequestBodySize = 1 << 20

// Dialog handles one user message.
type Dialog interface {
	HandleMessage(ctx context.Context, msg dialog.Message) (dialog.Reply, error)
}

// Reconciler applies an authenticated gateway webhook.
type Reconciler interface {
	Apply(ctx context.Context, raw []byte, signature string) (reconcile.Result, error)
}

// SessionReader reads session snapshots without mutating them.
type SessionReader interface {
	Peek(ctx context.Context, id string) (*session.Session, bool, error)
}

// TelegramSender sends a chat message to a Telegram chat.
type TelegramSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Deps wires a Handler. Telegram may be nil to disable that channel.
type Deps struct {
	Dialog     Dialog
	Reconciler Reconciler
	Sessions   SessionReader
	Hub        *delivery.Hub
	Telegram   TelegramSender
	Limiter    *RateLimiter

	// TelegramSecret, when set, must match X-Telegram-Bot-Api-Secret-Token.
	TelegramSecret string
	AllowedOrigin  string
	IsDev          bool
}

// Handler serves the chat, webhook and session endpoints.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// RegisterRoutes registers all chat and payment routes. Webhooks carry their
// own authentication; browser-facing routes get a session from identity.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/paystack", h.PaystackWebhook)
	if h.Telegram != nil {
		r.Post("/telegram/webhook", h.TelegramWebhook)
	}
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(h.IsDev))
		r.Post("/chat", h.Chat)
		r.Get("/ws/chat", h.ChatWS)
		r.Get("/api/sessions/{id}", h.GetSession)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// statusFor maps a dialog error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
