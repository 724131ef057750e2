package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/meleki1/salesagent/internal/delivery"
	"github.com/meleki1/salesagent/internal/dialog"
	"github.com/meleki1/salesagent/internal/identity"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/reconcile"
)

const (
	webhookTimeout       = 30 * time.Second
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// PaystackWebhook authenticates and applies a gateway notification. Every
// authenticated delivery is acknowledged with 200 so the gateway stops
// retrying; only unauthenticated or unparseable bodies get 400.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The gateway may hang up early; the charge must still be applied.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()

	res, err := h.Reconciler.Apply(ctx, body, r.Header.Get(paystack.SignatureHeader))
	if res == reconcile.Rejected {
		if errors.Is(err, reconcile.ErrMalformedPayload) {
			Error(w, http.StatusBadRequest, "malformed payload")
		} else {
			slog.Warn("Webhook rejected", "ip", identity.IPFromRequest(r), "error", err)
			Error(w, http.StatusBadRequest, "invalid signature")
		}
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": string(res)})
}

// TelegramWebhook routes an incoming Telegram message through the dialog and
// answers in the same chat.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if h.TelegramSecret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(telegramSecretHeader)), []byte(h.TelegramSecret)) != 1 {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var upd delivery.Update
	body, err := readBody(w, r)
	if err != nil || json.Unmarshal(body, &upd) != nil {
		Error(w, http.StatusBadRequest, "invalid update")
		return
	}
	if upd.Message == nil || upd.Message.Text == "" {
		JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	chatID := upd.Message.Chat.ID
	channel := delivery.TelegramChannel(chatID)
	if !h.Limiter.Allow(channel) {
		JSON(w, http.StatusOK, map[string]string{"status": "throttled"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()

	reply, err := h.Dialog.HandleMessage(ctx, dialog.Message{
		SessionID: channel,
		Text:      upd.Message.Text,
		Channel:   channel,
	})
	if err != nil {
		// Telegram retries on non-2xx; a failed turn is not worth a replay.
		slog.Error("Telegram turn failed", "chat_id", chatID, "error", err)
		JSON(w, http.StatusOK, map[string]string{"status": "failed"})
		return
	}

	if text := telegramText(reply); text != "" {
		if err := h.Telegram.SendMessage(ctx, chatID, text); err != nil {
			slog.Warn("Telegram reply not sent", "chat_id", chatID, "error", err)
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// telegramText renders a reply for a channel without structured data.
func telegramText(reply dialog.Reply) string {
	url, _ := reply.Data["payment_url"].(string)
	switch {
	case reply.Kind == dialog.KindSilent:
		return ""
	case reply.Kind == dialog.KindPaymentLink && url != "":
		return "Here is your secure payment link:\n" + url
	case url != "" && reply.Text != "":
		return reply.Text + "\n" + url
	default:
		return reply.Text
	}
}
