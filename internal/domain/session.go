// Package domain contains core domain types for the sales agent.
package domain

import (
	"time"
)

// Role tags who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single immutable entry in a session's conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the checkout state of a session.
type State string

const (
	StateCollecting           State = "COLLECTING"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateAwaitingPayment      State = "AWAITING_PAYMENT"
	StatePaymentLocked        State = "PAYMENT_LOCKED"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateCollecting, StateAwaitingConfirmation, StateAwaitingPayment, StatePaymentLocked:
		return true
	}
	return false
}

// PendingPayment is the outstanding checkout attached to a locked session.
// URL and Reference stay empty between taking the lock and the gateway answering.
type PendingPayment struct {
	URL       string    `json:"url,omitempty"`
	Reference string    `json:"reference,omitempty"`
	OrderID   int64     `json:"order_id,omitempty"`
	LockedAt  time.Time `json:"locked_at"`
}
