package domain

import (
	"time"
)

// SessionRecord is the persisted snapshot of a conversation session.
type SessionRecord struct {
	SessionID        string
	State            State
	InfoJSON         string
	PaymentURL       string
	PaymentReference string
	OrderID          int64
	LockedAt         *time.Time
	Channel          string
	MessagesJSON     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
