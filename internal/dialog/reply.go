// Package dialog routes each user message through intent classification,
// the checkout state machine and the payment orchestrator.
package dialog

import (
	"github.com/meleki1/salesagent/internal/domain"
)

// Kind tags how a transport should render a Reply.
type Kind string

const (
	KindText        Kind = "text"
	KindPaymentLink Kind = "payment_link"
	KindSilent      Kind = "silent"
)

// Action tells the transport what the turn did.
type Action string

const (
	ActionContinueChat             Action = "continue_chat"
	ActionCollectCustomerInfo      Action = "collect_customer_info"
	ActionOrderSummary             Action = "order_summary"
	ActionAwaitPaymentConfirmation Action = "await_payment_confirmation"
	ActionRequestEmail             Action = "request_email"
	ActionPaymentLinkCreated       Action = "payment_link_created"
	ActionPaymentLocked            Action = "payment_locked"
	ActionPaymentError             Action = "payment_error"
	ActionPaymentVerified          Action = "payment_verified"
	ActionPaymentPending           Action = "payment_pending"
)

// Reply is the single result of handling one message. Text is empty for
// KindSilent and KindPaymentLink; the link travels in Data.
type Reply struct {
	Kind   Kind           `json:"-"`
	Text   string         `json:"reply"`
	Intent domain.Intent  `json:"intent"`
	Action Action         `json:"action"`
	Data   map[string]any `json:"data"`
}

func textReply(intent domain.Intent, action Action, text string) Reply {
	return Reply{Kind: KindText, Text: text, Intent: intent, Action: action, Data: map[string]any{}}
}

func linkReply(intent domain.Intent, p *domain.PendingPayment) Reply {
	data := map[string]any{
		"payment_url": p.URL,
		"reference":   p.Reference,
	}
	if p.OrderID != 0 {
		data["order_id"] = p.OrderID
	}
	return Reply{Kind: KindPaymentLink, Intent: intent, Action: ActionPaymentLinkCreated, Data: data}
}

func silentReply(intent domain.Intent) Reply {
	return Reply{Kind: KindSilent, Intent: intent, Action: ActionPaymentLocked, Data: map[string]any{}}
}

const (
	payNowPrompt  = "Great, your order is confirmed! Type \"pay now\" to receive your secure payment link."
	emailPrompt   = "To generate your secure payment link, I'll need your email address. Please share it with me."
	retryPrompt   = "Sorry, we couldn't create your payment link just now. Please type \"pay now\" to try again."
	pendingText   = "We haven't received your payment yet. You can complete it using the link below."
	confirmedText = "Your payment has already been confirmed. Thank you!"
)
