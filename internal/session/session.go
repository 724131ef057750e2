// Package session holds the per-conversation checkout state machine and the
// lock-protected store that serializes access to it.
package session

import (
	"slices"
	"time"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/extract"
)

// Session is one conversation thread and its checkout progress.
// It is only mutated inside Store.With.
type Session struct {
	ID        string
	State     domain.State
	Info      domain.CustomerInfo
	Pending   *domain.PendingPayment
	Channel   string
	CreatedAt time.Time
	UpdatedAt time.Time

	messages []domain.Message
}

// New returns an empty session in COLLECTING.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		State:     domain.StateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the log and refreshes the cached customer info.
func (s *Session) Append(role domain.Role, content string, now time.Time) {
	s.messages = append(s.messages, domain.Message{Role: role, Content: content, CreatedAt: now})
	s.UpdatedAt = now
	if role == domain.RoleUser {
		s.Info = s.Info.Merge(extract.Extract(s.messages))
	}
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []domain.Message {
	return slices.Clone(s.messages)
}

// CurrentInfo re-derives customer info from the full log. Gates call this
// rather than trusting Info so a field added since the last gate is seen.
func (s *Session) CurrentInfo() domain.CustomerInfo {
	s.Info = s.Info.Merge(extract.Extract(s.messages))
	return s.Info
}

// Locked reports whether a payment is outstanding.
func (s *Session) Locked() bool {
	return s.State == domain.StatePaymentLocked && s.Pending != nil
}

// PaymentURL returns the cached checkout URL, if any.
func (s *Session) PaymentURL() string {
	if s.Pending == nil {
		return ""
	}
	return s.Pending.URL
}

// Lock takes the payment lock. It returns false if the session is already locked
// or not in AWAITING_PAYMENT.
func (s *Session) Lock(now time.Time) bool {
	if s.Locked() || s.State != domain.StateAwaitingPayment {
		return false
	}
	s.State = domain.StatePaymentLocked
	s.Pending = &domain.PendingPayment{LockedAt: now}
	s.UpdatedAt = now
	return true
}

// HoldsLock reports whether the session is still locked by the attempt that
// took the lock at lockedAt. Lock times are persisted at second precision.
func (s *Session) HoldsLock(lockedAt time.Time) bool {
	return s.State == domain.StatePaymentLocked && s.Pending != nil &&
		s.Pending.LockedAt.Unix() == lockedAt.Unix()
}

// AttachCheckout caches the gateway result on a locked session.
func (s *Session) AttachCheckout(url, reference string, orderID int64) {
	if s.Pending == nil {
		return
	}
	s.Pending.URL = url
	s.Pending.Reference = reference
	s.Pending.OrderID = orderID
}

// Unlock releases a lock after a failed or abandoned checkout, leaving the
// session retryable in AWAITING_PAYMENT.
func (s *Session) Unlock(now time.Time) {
	if s.State == domain.StatePaymentLocked {
		s.State = domain.StateAwaitingPayment
	}
	s.Pending = nil
	s.UpdatedAt = now
}

// ReleaseAfterPayment clears the lock and cached URL after a reconciled payment
// and returns the session to COLLECTING so a new order can start.
func (s *Session) ReleaseAfterPayment(now time.Time) {
	s.State = domain.StateCollecting
	s.Pending = nil
	s.UpdatedAt = now
}

// Clone returns a deep copy safe to hand out of the critical section.
func (s *Session) Clone() *Session {
	c := *s
	c.messages = slices.Clone(s.messages)
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}
