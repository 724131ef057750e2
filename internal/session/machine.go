package session

import (
	"github.com/meleki1/salesagent/internal/domain"
)

// Effect is the side effect the router must perform for a transition.
type Effect int

const (
	// EffectGenerate hands the turn to the language generation service.
	EffectGenerate Effect = iota
	// EffectRequestMissing keeps collecting: ask for the fields still missing.
	EffectRequestMissing
	// EffectSummary produces and stores the order summary.
	EffectSummary
	// EffectPayNowPrompt asks the user to type "pay now".
	EffectPayNowPrompt
	// EffectCheckout takes the lock and invokes the payment orchestrator.
	EffectCheckout
	// EffectRequestEmail asks explicitly for the email needed by the gateway.
	EffectRequestEmail
	// EffectResendLink re-emits the cached payment URL.
	EffectResendLink
	// EffectSilent produces no reply while a payment is outstanding.
	EffectSilent
	// EffectVerifyPayment asks the gateway whether the outstanding payment succeeded.
	EffectVerifyPayment
)

func (e Effect) String() string {
	switch e {
	case EffectGenerate:
		return "generate"
	case EffectRequestMissing:
		return "request_missing"
	case EffectSummary:
		return "summary"
	case EffectPayNowPrompt:
		return "pay_now_prompt"
	case EffectCheckout:
		return "checkout"
	case EffectRequestEmail:
		return "request_email"
	case EffectResendLink:
		return "resend_link"
	case EffectSilent:
		return "silent"
	case EffectVerifyPayment:
		return "verify_payment"
	}
	return "unknown"
}

// Transition is the outcome of Decide.
type Transition struct {
	From   domain.State
	To     domain.State
	Effect Effect
}

// Decide applies the checkout transition table for the current state and intent.
// info must be freshly derived from the log. Decide never mutates the session;
// PAYMENT_LOCKED is entered by Session.Lock when the router executes EffectCheckout.
func Decide(s *Session, intent domain.Intent, info domain.CustomerInfo) Transition {
	from := s.State
	stay := func(e Effect) Transition { return Transition{From: from, To: from, Effect: e} }

	if s.Locked() {
		if intent == domain.IntentPaymentConfirmation && s.Pending.Reference != "" {
			return stay(EffectVerifyPayment)
		}
		if s.PaymentURL() != "" {
			return stay(EffectResendLink)
		}
		return stay(EffectSilent)
	}

	switch intent {
	case domain.IntentPurchase:
		if from == domain.StateCollecting {
			if info.Complete() {
				return Transition{From: from, To: domain.StateAwaitingConfirmation, Effect: EffectSummary}
			}
			return stay(EffectRequestMissing)
		}
		return stay(EffectGenerate)
	case domain.IntentOrderConfirmation:
		if from == domain.StateAwaitingConfirmation {
			if info.Complete() {
				return Transition{From: from, To: domain.StateAwaitingPayment, Effect: EffectPayNowPrompt}
			}
			return stay(EffectRequestMissing)
		}
		return stay(EffectGenerate)
	case domain.IntentPaymentInitiation:
		if from == domain.StateAwaitingPayment {
			if info.Email != "" {
				return Transition{From: from, To: domain.StatePaymentLocked, Effect: EffectCheckout}
			}
			return stay(EffectRequestEmail)
		}
		return stay(EffectGenerate)
	case domain.IntentGreeting,
		domain.IntentSkinConcern,
		domain.IntentProductInquiry,
		domain.IntentPricing,
		domain.IntentObjection,
		domain.IntentPaymentConfirmation,
		domain.IntentSupportRequest,
		domain.IntentUnknown:
		return stay(EffectGenerate)
	}
	return stay(EffectGenerate)
}
