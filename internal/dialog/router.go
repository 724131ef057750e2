package dialog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meleki1/salesagent/internal/checkout"
	"github.com/meleki1/salesagent/internal/convlog"
	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/generation"
	"github.com/meleki1/salesagent/internal/metrics"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/reconcile"
	"github.com/meleki1/salesagent/internal/session"
	"github.com/meleki1/salesagent/internal/store"
)

// CheckoutCreator starts a hosted checkout.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, sessionID string, info domain.CustomerInfo, amount int64) (checkout.Checkout, error)
}

// PaymentVerifier asks the gateway for the status of a reference.
type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (paystack.Verification, error)
}

// Settler applies a verified charge through the same path as the webhook.
type Settler interface {
	Settle(ctx context.Context, charge store.ChargeSuccess, src reconcile.Source) (reconcile.Result, string)
}

// Message is one inbound user message.
type Message struct {
	SessionID string
	Text      string
	// Channel is the transport hint, e.g. "web" or "telegram:<chat id>".
	Channel string
	// Amount overrides the configured order amount when positive.
	Amount int64
}

// Config wires a Router.
type Config struct {
	Sessions   *session.Store
	Classifier generation.Classifier
	Generator  generation.Generator
	Checkout   CheckoutCreator
	Verifier   PaymentVerifier
	Settler    Settler
	ConvLog    convlog.Logger
	Logger     *slog.Logger
	// OrderAmount is the default amount in major units.
	OrderAmount int64
}

// Router is the entry point transports call for every user message.
type Router struct {
	sessions    *session.Store
	classifier  generation.Classifier
	generator   generation.Generator
	checkout    CheckoutCreator
	verifier    PaymentVerifier
	settler     Settler
	convlog     convlog.Logger
	logger      *slog.Logger
	orderAmount int64
	now         func() time.Time
}

// New creates a Router. Classifier and Generator default to the local fallbacks.
func New(cfg Config) *Router {
	r := &Router{
		sessions:    cfg.Sessions,
		classifier:  cfg.Classifier,
		generator:   cfg.Generator,
		checkout:    cfg.Checkout,
		verifier:    cfg.Verifier,
		settler:     cfg.Settler,
		convlog:     cfg.ConvLog,
		logger:      cfg.Logger,
		orderAmount: cfg.OrderAmount,
		now:         time.Now,
	}
	if r.classifier == nil {
		r.classifier = generation.NewKeywordClassifier()
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
	return r
}

// Handle processes text for a web session with the configured amount.
func (r *Router) Handle(ctx context.Context, sessionID, text string) (Reply, error) {
	return r.HandleMessage(ctx, Message{SessionID: sessionID, Text: text, Channel: "web"})
}

// pendingWork is the gateway call decided inside the critical section and
// performed after leaving it.
type pendingWork struct {
	effect   session.Effect
	intent   domain.Intent
	info     domain.CustomerInfo
	amount   int64
	lockedAt time.Time
	pending  domain.PendingPayment
}

// HandleMessage runs one turn. Classification happens before the session's
// critical section and generation after it; the section itself only covers
// the append, the transition and any lock change. Gateway calls also happen
// outside it, guarded by the payment lock itself.
func (r *Router) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	if msg.SessionID == "" {
		return Reply{}, session.ErrEmptyID
	}
	amount := msg.Amount
	if amount <= 0 {
		amount = r.orderAmount
	}
	intent := r.classify(ctx, msg.SessionID, msg.Text)

	var (
		reply   Reply
		work    *pendingWork
		prompt  *generation.Prompt
		action  Action
		channel string
	)
	err := r.sessions.With(ctx, msg.SessionID, func(s *session.Session) error {
		work, prompt = nil, nil
		if msg.Channel != "" {
			s.Channel = msg.Channel
		}
		channel = s.Channel
		s.Append(domain.RoleUser, msg.Text, r.now())

		info := s.CurrentInfo()
		t := session.Decide(s, intent, info)

		switch t.Effect {
		case session.EffectGenerate:
			prompt, action = r.prompt(s, generation.PurposeReply, intent, info, amount), ActionContinueChat
		case session.EffectRequestMissing:
			prompt, action = r.prompt(s, generation.PurposeCollectInfo, intent, info, amount), ActionCollectCustomerInfo
		case session.EffectSummary:
			s.State = t.To
			reply = textReply(intent, ActionOrderSummary, info.Summary(amount))
		case session.EffectPayNowPrompt:
			s.State = t.To
			reply = textReply(intent, ActionAwaitPaymentConfirmation, payNowPrompt)
		case session.EffectRequestEmail:
			reply = textReply(intent, ActionRequestEmail, emailPrompt)
		case session.EffectCheckout:
			if !s.Lock(r.now()) {
				reply = silentReply(intent)
				break
			}
			work = &pendingWork{effect: t.Effect, intent: intent, info: info, amount: amount, lockedAt: s.Pending.LockedAt}
		case session.EffectResendLink:
			reply = linkReply(intent, s.Pending)
		case session.EffectSilent:
			reply = silentReply(intent)
		case session.EffectVerifyPayment:
			if r.verifier == nil || r.settler == nil {
				reply = r.lockedReply(intent, s)
				break
			}
			work = &pendingWork{effect: t.Effect, intent: intent, info: info, pending: *s.Pending}
		}

		if work == nil && prompt == nil && reply.Kind == KindText {
			s.Append(domain.RoleAssistant, reply.Text, r.now())
		}
		return nil
	})
	if err != nil {
		return Reply{}, err
	}

	switch {
	case prompt != nil:
		reply = textReply(intent, action, r.generate(ctx, *prompt))
		err = r.appendAssistant(ctx, msg.SessionID, reply.Text)
	case work != nil && work.effect == session.EffectCheckout:
		reply, err = r.runCheckout(ctx, msg.SessionID, work)
	case work != nil && work.effect == session.EffectVerifyPayment:
		reply, err = r.runVerify(ctx, msg.SessionID, work)
	}
	if err != nil {
		return Reply{}, err
	}

	r.record(msg, channel, reply)
	return reply, nil
}

func (r *Router) classify(ctx context.Context, sessionID, text string) domain.Intent {
	intent, err := r.classifier.Classify(ctx, text)
	if err != nil {
		r.logger.Warn("Classification failed", "session_id", sessionID, "error", err)
		return domain.IntentUnknown
	}
	return intent
}

// appendAssistant records a reply produced outside the critical section.
// A cancelled request must still log what the customer was told.
func (r *Router) appendAssistant(ctx context.Context, sessionID, text string) error {
	return r.sessions.With(context.WithoutCancel(ctx), sessionID, func(s *session.Session) error {
		s.Append(domain.RoleAssistant, text, r.now())
		return nil
	})
}

func (r *Router) runCheckout(ctx context.Context, sessionID string, w *pendingWork) (Reply, error) {
	co, coErr := r.checkout.CreateCheckout(ctx, sessionID, w.info, w.amount)
	if coErr != nil {
		level := slog.LevelWarn
		if errors.Is(coErr, checkout.ErrInvalidInput) {
			level = slog.LevelError
		}
		r.logger.Log(ctx, level, "Checkout failed, releasing payment lock", "session_id", sessionID, "error", coErr)
	}

	var reply Reply
	// A cancelled request must still release or record the lock.
	err := r.sessions.With(context.WithoutCancel(ctx), sessionID, func(s *session.Session) error {
		ours := s.HoldsLock(w.lockedAt)
		// Released by the sweeper while the gateway was slow, and not retaken.
		released := s.Pending == nil && s.State == domain.StateAwaitingPayment
		if !ours && !released {
			r.logger.Warn("Checkout superseded by a newer payment lock",
				"session_id", sessionID, "reference", co.Reference)
			reply = silentReply(w.intent)
			return nil
		}

		if coErr != nil {
			s.Unlock(r.now())
			reply = textReply(w.intent, ActionPaymentError, retryPrompt)
			s.Append(domain.RoleAssistant, reply.Text, r.now())
			return nil
		}
		if released {
			s.Lock(r.now())
		}
		s.AttachCheckout(co.URL, co.Reference, co.OrderID)
		reply = linkReply(w.intent, s.Pending)
		return nil
	})
	return reply, err
}

func (r *Router) runVerify(ctx context.Context, sessionID string, w *pendingWork) (Reply, error) {
	v, err := r.verifier.Verify(ctx, w.pending.Reference)
	if err != nil {
		r.logger.Warn("Payment verification failed", "session_id", sessionID, "reference", w.pending.Reference, "error", err)
	}
	if err == nil && v.Succeeded() {
		orderID := v.Metadata.OrderID
		if orderID == 0 {
			orderID = w.pending.OrderID
		}
		res, text := r.settler.Settle(ctx, store.ChargeSuccess{
			Reference:  w.pending.Reference,
			Amount:     v.Amount,
			OrderID:    orderID,
			ReceivedAt: r.now(),
		}, reconcile.SourceVerify)
		if text != "" {
			// Settle has already added the confirmation to the log.
			return textReply(w.intent, ActionPaymentVerified, text), nil
		}
		switch res {
		case reconcile.Applied, reconcile.Duplicate:
			reply := textReply(w.intent, ActionPaymentVerified, confirmedText)
			return reply, r.appendAssistant(ctx, sessionID, reply.Text)
		case reconcile.Rejected, reconcile.Ignored, reconcile.Unresolved, reconcile.Failed:
		}
	}

	reply := linkReply(w.intent, &w.pending)
	reply.Kind = KindText
	reply.Text = pendingText
	reply.Action = ActionPaymentPending
	return reply, r.appendAssistant(ctx, sessionID, reply.Text)
}

// lockedReply is the plain locked-session behaviour: resend or stay silent.
func (r *Router) lockedReply(intent domain.Intent, s *session.Session) Reply {
	if s.PaymentURL() != "" {
		return linkReply(intent, s.Pending)
	}
	return silentReply(intent)
}

func (r *Router) prompt(s *session.Session, purpose generation.Purpose, intent domain.Intent, info domain.CustomerInfo, amount int64) *generation.Prompt {
	return &generation.Prompt{
		SessionID: s.ID,
		Purpose:   purpose,
		Intent:    intent,
		History:   s.Messages(),
		Info:      info,
		Missing:   info.Missing(),
		Amount:    amount,
	}
}

func (r *Router) generate(ctx context.Context, p generation.Prompt) string {
	text, err := r.generator.Generate(ctx, p)
	if err != nil || text == "" {
		if err != nil {
			r.logger.Warn("Generation failed", "session_id", p.SessionID, "error", err)
		}
		text, _ = generation.StaticGenerator{}.Generate(ctx, p)
	}
	return text
}

func (r *Router) record(msg Message, channel string, reply Reply) {
	metrics.ChatTurns.WithLabelValues(string(reply.Intent), string(reply.Action)).Inc()
	r.convlog.Log(convlog.Event{
		SessionID:  msg.SessionID,
		Channel:    channel,
		Direction:  convlog.Inbound,
		EventType:  "chat_user_message",
		Intent:     string(reply.Intent),
		ContentRaw: msg.Text,
	})
	r.convlog.Log(convlog.Event{
		SessionID:  msg.SessionID,
		Channel:    channel,
		Direction:  convlog.Outbound,
		EventType:  "chat_reply",
		Intent:     string(reply.Intent),
		Action:     string(reply.Action),
		ContentRaw: reply.Text,
		Meta:       reply.Data,
	})
}
