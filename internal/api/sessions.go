package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/identity"
)

type sessionResponse struct {
	SessionID  string              `json:"session_id"`
	State      domain.State        `json:"state"`
	Locked     bool                `json:"locked"`
	PaymentURL string              `json:"payment_url,omitempty"`
	Reference  string              `json:"reference,omitempty"`
	OrderID    int64               `json:"order_id,omitempty"`
	Channel    string              `json:"channel,omitempty"`
	Info       domain.CustomerInfo `json:"info"`
	Missing    []string            `json:"missing"`
	Messages   []domain.Message    `json:"messages"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// GetSession returns a read-only snapshot of a session, including the log,
// so clients without a live connection can pick up pushed confirmations.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.Sanitize(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	s, found, err := h.Sessions.Peek(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !found {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	info := s.CurrentInfo()
	resp := sessionResponse{
		SessionID:  s.ID,
		State:      s.State,
		Locked:     s.Locked(),
		PaymentURL: s.PaymentURL(),
		Channel:    s.Channel,
		Info:       info,
		Missing:    info.Missing(),
		Messages:   s.Messages(),
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Pending != nil {
		resp.Reference = s.Pending.Reference
		resp.OrderID = s.Pending.OrderID
	}
	if resp.Missing == nil {
		resp.Missing = []string{}
	}
	JSON(w, http.StatusOK, resp)
}
