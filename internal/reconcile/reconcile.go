// Package reconcile applies payment gateway notifications to orders and
// sessions, at most once per payment reference.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meleki1/salesagent/internal/convlog"
	"github.com/meleki1/salesagent/internal/delivery"
	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/generation"
	"github.com/meleki1/salesagent/internal/metrics"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/session"
	"github.com/meleki1/salesagent/internal/store"
)

// ErrMalformedPayload is returned for an authenticated body that cannot be parsed.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Result is the outcome of one delivery.
type Result string

const (
	// Rejected: signature missing or wrong, or the body is malformed. Nothing changed.
	Rejected Result = "rejected"
	// Ignored: authenticated but not an event this service acts on.
	Ignored Result = "ignored"
	// Duplicate: the reference was already reconciled.
	Duplicate Result = "duplicate"
	// Applied: the order was marked paid and its session released.
	Applied Result = "applied"
	// Unresolved: the payment was recorded but no session could be found.
	Unresolved Result = "unresolved"
	// Failed: the store could not apply the charge. The gateway is still acknowledged.
	Failed Result = "failed"
)

// Source says where a charge came from.
type Source string

const (
	// SourceWebhook is a gateway notification; the confirmation is pushed.
	SourceWebhook Source = "webhook"
	// SourceVerify is an on-demand gateway lookup; the caller replies itself.
	SourceVerify Source = "verify"
)

const defaultSettleTimeout = 30 * time.Second

var errAlreadyConfirmed = errors.New("confirmation already delivered")

// Reconciler authenticates and applies webhook deliveries.
type Reconciler struct {
	secret        string
	repo          store.Repository
	sessions      *session.Store
	generator     generation.Generator
	notifier      delivery.Notifier
	convlog       convlog.Logger
	logger        *slog.Logger
	settleTimeout time.Duration
	now           func() time.Time
}

// Config wires a Reconciler.
type Config struct {
	Secret    string
	Repo      store.Repository
	Sessions  *session.Store
	Generator generation.Generator
	Notifier  delivery.Notifier
	ConvLog   convlog.Logger
	Logger    *slog.Logger
	// SettleTimeout bounds waiting for the session and producing the
	// confirmation, independent of the caller's context.
	SettleTimeout time.Duration
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		secret:        cfg.Secret,
		repo:          cfg.Repo,
		sessions:      cfg.Sessions,
		generator:     cfg.Generator,
		notifier:      cfg.Notifier,
		convlog:       cfg.ConvLog,
		logger:        cfg.Logger,
		settleTimeout: cfg.SettleTimeout,
		now:           time.Now,
	}
	if r.generator == nil {
		r.generator = generation.StaticGenerator{}
	}
	if r.convlog == nil {
		r.convlog = convlog.Nop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.settleTimeout <= 0 {
		r.settleTimeout = defaultSettleTimeout
	}
	return r
}

// Apply verifies the signature over the raw body, then applies a
// charge.success event. Only Rejected comes with a non-nil error.
func (r *Reconciler) Apply(ctx context.Context, raw []byte, signature string) (Result, error) {
	if err := paystack.VerifySignature(r.secret, raw, signature); err != nil {
		metrics.Webhooks.WithLabelValues(string(Rejected)).Inc()
		r.logger.Warn("Webhook signature rejected", "error", err)
		return Rejected, err
	}

	ev, err := paystack.ParseEvent(raw)
	if err != nil {
		r.audit(ctx, "", "", "malformed")
		metrics.Webhooks.WithLabelValues(string(Rejected)).Inc()
		return Rejected, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	if ev.Event != paystack.EventChargeSuccess || (ev.Data.Status != "" && ev.Data.Status != "success") {
		r.audit(ctx, ev.Event, ev.Data.Reference, string(Ignored))
		metrics.Webhooks.WithLabelValues(string(Ignored)).Inc()
		r.logger.Info("Webhook event ignored", "event", ev.Event, "reference", ev.Data.Reference)
		return Ignored, nil
	}
	if ev.Data.Reference == "" {
		r.audit(ctx, ev.Event, "", "malformed")
		metrics.Webhooks.WithLabelValues(string(Rejected)).Inc()
		return Rejected, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}

	res, _ := r.Settle(ctx, store.ChargeSuccess{
		Reference:  ev.Data.Reference,
		Amount:     ev.Data.Amount,
		OrderID:    ev.Data.Metadata.OrderID,
		ReceivedAt: r.now(),
	}, SourceWebhook)
	metrics.Webhooks.WithLabelValues(string(res)).Inc()
	r.audit(ctx, ev.Event, ev.Data.Reference, string(res))
	return res, nil
}

// Settle records a successful charge and, if the order still owes its
// customer a confirmation, delivers it. The returned text is non-empty only
// for the call that delivered the confirmation; webhook charges also push it
// through the notifier. A confirmation that cannot be delivered now stays
// pending for the next delivery or ResumeConfirmations. Settle must not be
// called while holding the session's critical section.
func (r *Reconciler) Settle(ctx context.Context, charge store.ChargeSuccess, src Source) (Result, string) {
	out, err := r.repo.ApplyChargeSuccess(ctx, charge)
	if err != nil {
		metrics.Settlements.WithLabelValues(string(src), string(Failed)).Inc()
		r.logger.Error("Failed to apply charge", "reference", charge.Reference, "source", src, "error", err)
		return Failed, ""
	}

	if out.SessionID == "" {
		metrics.Settlements.WithLabelValues(string(src), string(Unresolved)).Inc()
		r.logger.Warn("Payment could not be traced to a session",
			"reference", charge.Reference,
			"order_id", out.OrderID,
			"amount", charge.Amount)
		return Unresolved, ""
	}

	res := Applied
	if out.Duplicate || !out.OrderMarkedPaid {
		res = Duplicate
	}
	metrics.Settlements.WithLabelValues(string(src), string(res)).Inc()
	if !out.ConfirmationPending {
		return res, ""
	}
	pc := store.PendingConfirmation{OrderID: out.OrderID, SessionID: out.SessionID, Reference: charge.Reference}
	return res, r.confirm(ctx, pc, out.OrderMarkedPaid, src == SourceWebhook)
}

// ResumeConfirmations delivers confirmations left pending by deliveries that
// could not reach their session in time. It returns how many it delivered.
func (r *Reconciler) ResumeConfirmations(ctx context.Context) (int, error) {
	pending, err := r.repo.PendingConfirmations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending confirmations: %w", err)
	}
	delivered := 0
	for _, pc := range pending {
		if ctx.Err() != nil {
			break
		}
		if r.confirm(ctx, pc, false, true) != "" {
			delivered++
		}
	}
	return delivered, nil
}

// StartResumer periodically runs ResumeConfirmations until ctx ends.
func StartResumer(ctx context.Context, r *Reconciler, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := r.ResumeConfirmations(ctx)
				if err != nil {
					r.logger.Error("Confirmation resume failed", "error", err)
					continue
				}
				if n > 0 {
					r.logger.Info("Delivered pending confirmations", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// confirm claims the order's confirmation, records it in the session and
// releases the session's lock on this payment. The text is generated before
// entering the critical section. paidNow marks the delivery that moved the
// order to paid.
func (r *Reconciler) confirm(ctx context.Context, pc store.PendingConfirmation, paidNow, notify bool) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settleTimeout)
	defer cancel()

	snap, ok, err := r.sessions.Peek(ctx, pc.SessionID)
	if err != nil {
		r.logger.Warn("Session busy, confirmation left pending",
			"session_id", pc.SessionID, "order_id", pc.OrderID, "error", err)
		return ""
	}
	if !ok {
		snap = session.New(pc.SessionID, r.now())
	}
	text := r.confirmation(ctx, snap, pc.OrderID)

	var (
		channel string
		claimed bool
	)
	err = r.sessions.With(ctx, pc.SessionID, func(s *session.Session) error {
		won, err := r.repo.ClaimConfirmation(ctx, pc.OrderID, r.now())
		if err != nil {
			return err
		}
		if !won {
			return errAlreadyConfirmed
		}
		claimed = true
		if ownsPayment(s, pc.Reference, pc.OrderID, paidNow) {
			s.ReleaseAfterPayment(r.now())
		}
		s.Append(domain.RoleAssistant, text, r.now())
		channel = s.Channel
		return nil
	})
	if errors.Is(err, errAlreadyConfirmed) {
		return ""
	}
	if err != nil {
		if claimed {
			if relErr := r.repo.ReleaseConfirmation(context.WithoutCancel(ctx), pc.OrderID); relErr != nil {
				r.logger.Error("Failed to release confirmation claim",
					"order_id", pc.OrderID, "error", relErr)
			}
		}
		r.logger.Error("Failed to settle session after payment, confirmation left pending",
			"session_id", pc.SessionID,
			"reference", pc.Reference,
			"error", err)
		return ""
	}

	r.logger.Info("Payment reconciled",
		"session_id", pc.SessionID,
		"order_id", pc.OrderID,
		"reference", pc.Reference)
	r.convlog.Log(convlog.Event{
		SessionID:  pc.SessionID,
		Channel:    channel,
		Direction:  convlog.Outbound,
		EventType:  "payment_confirmation",
		ContentRaw: text,
		Meta:       map[string]any{"reference": pc.Reference, "order_id": pc.OrderID},
	})

	if !notify || r.notifier == nil {
		return text
	}
	if err := r.notifier.Notify(ctx, pc.SessionID, channel, text); err != nil {
		// The confirmation is in the session log; polling clients still see it.
		r.logger.Warn("Confirmation not pushed",
			"session_id", pc.SessionID,
			"channel", channel,
			"error", err)
	}
	return text
}

// ownsPayment reports whether the session's checkout progress belongs to
// this payment. A session locked on a different checkout keeps its lock; a
// session waiting to pay is only reset by the delivery that paid the order.
func ownsPayment(s *session.Session, reference string, orderID int64, paidNow bool) bool {
	switch s.State {
	case domain.StatePaymentLocked:
		if s.Pending == nil {
			return true
		}
		if reference != "" && s.Pending.Reference == reference {
			return true
		}
		return orderID != 0 && s.Pending.OrderID == orderID
	case domain.StateAwaitingPayment:
		// Lock lost to the sweeper or a failed retry.
		return paidNow && s.Pending == nil
	}
	return false
}

func (r *Reconciler) confirmation(ctx context.Context, s *session.Session, orderID int64) string {
	p := generation.Prompt{
		SessionID: s.ID,
		Purpose:   generation.PurposePaymentConfirmation,
		History:   s.Messages(),
		Info:      s.CurrentInfo(),
		OrderID:   orderID,
	}
	text, err := r.generator.Generate(ctx, p)
	if err != nil || text == "" {
		text, _ = generation.StaticGenerator{}.Generate(ctx, p)
	}
	return text
}

func (r *Reconciler) audit(ctx context.Context, event, reference, outcome string) {
	err := r.repo.RecordWebhookEvent(ctx, store.WebhookEvent{
		Event:      event,
		Reference:  reference,
		Outcome:    outcome,
		ReceivedAt: r.now(),
	})
	if err != nil {
		r.logger.Warn("Failed to record webhook event", "error", err, "reference", reference)
	}
}
