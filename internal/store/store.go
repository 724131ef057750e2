// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/meleki1/salesagent/internal/domain"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting sessions and checkout records.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetSession retrieves a session snapshot. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// UpsertSession creates or updates a session snapshot.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// StaleLockedSessions lists sessions locked before the threshold that never received a payment URL.
	StaleLockedSessions(ctx context.Context, before time.Time) ([]string, error)

	// WithTx runs fn inside a single database transaction.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// ApplyChargeSuccess idempotently records a successful charge and marks its order paid.
	ApplyChargeSuccess(ctx context.Context, charge ChargeSuccess) (ChargeOutcome, error)

	// GetPaymentByReference retrieves a payment by gateway reference.
	GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// RecordWebhookEvent appends an audit row for an authenticated webhook delivery.
	RecordWebhookEvent(ctx context.Context, ev WebhookEvent) error

	// ClaimConfirmation records that a paid order's confirmation was delivered.
	// It returns true for exactly one caller per order.
	ClaimConfirmation(ctx context.Context, orderID int64, at time.Time) (bool, error)

	// ReleaseConfirmation clears a claim so the confirmation can be retried.
	ReleaseConfirmation(ctx context.Context, orderID int64) error

	// PendingConfirmations lists paid orders still owing their session a confirmation.
	PendingConfirmations(ctx context.Context) ([]PendingConfirmation, error)

	// UnresolvedPayments lists successful payments that cannot be traced back to a session.
	UnresolvedPayments(ctx context.Context) ([]*domain.Payment, error)
}

// Tx is the write surface available inside WithTx.
type Tx interface {
	CreateCustomer(ctx context.Context, c *domain.Customer) (int64, error)
	CreateOrder(ctx context.Context, o *domain.Order) (int64, error)
	CreatePayment(ctx context.Context, p *domain.Payment) (int64, error)
}

// ChargeSuccess carries the facts of a gateway "charge succeeded" notification.
type ChargeSuccess struct {
	Reference string
	Amount    int64
	// OrderID comes from gateway metadata when present; zero otherwise.
	OrderID    int64
	ReceivedAt time.Time
}

// ChargeOutcome reports what ApplyChargeSuccess changed.
type ChargeOutcome struct {
	Duplicate bool
	OrderID   int64
	SessionID string
	// OrderMarkedPaid is true only for the call that moved the order from pending to paid.
	OrderMarkedPaid bool
	// ConfirmationPending is true while the order is paid but no confirmation
	// has been claimed for it.
	ConfirmationPending bool
}

// PendingConfirmation is a paid order whose customer has not been told yet.
type PendingConfirmation struct {
	OrderID   int64
	SessionID string
	Reference string
}

// WebhookEvent is an audit row for a webhook delivery.
type WebhookEvent struct {
	ID         string
	Event      string
	Reference  string
	Outcome    string
	ReceivedAt time.Time
}
