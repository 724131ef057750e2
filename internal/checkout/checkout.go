// Package checkout creates customer, order and payment records and obtains a
// hosted checkout link from the payment gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/metrics"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/store"
)

var (
	// ErrInvalidInput marks a caller error; nothing was sent upstream.
	ErrInvalidInput = errors.New("invalid checkout input")
	// ErrUpstream marks a retryable gateway failure.
	ErrUpstream = errors.New("payment gateway unavailable")
)

const defaultGatewayTimeout = 15 * time.Second

// Gateway is the payment provider surface used to start a checkout.
type Gateway interface {
	Initialize(ctx context.Context, in paystack.InitializeRequest) (paystack.Transaction, error)
}

// Checkout is a created hosted checkout.
type Checkout struct {
	URL        string
	Reference  string
	OrderID    int64
	CustomerID int64
}

// Orchestrator runs the Customer → Order → gateway → Payment sequence.
type Orchestrator struct {
	repo    store.Repository
	gateway Gateway
	timeout time.Duration
	newRef  func() string
}

// New creates an Orchestrator. A non-positive timeout uses the default.
func New(repo store.Repository, gateway Gateway, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &Orchestrator{
		repo:    repo,
		gateway: gateway,
		timeout: timeout,
		newRef:  uuid.NewString,
	}
}

// CreateCheckout persists the customer and a pending order, asks the gateway
// for a checkout URL, then records the pending payment under the gateway
// reference. amount is in major units (naira). The caller must hold the
// session's payment lock and release it on error.
func (o *Orchestrator) CreateCheckout(ctx context.Context, sessionID string, info domain.CustomerInfo, amount int64) (Checkout, error) {
	if err := validate(sessionID, info, amount); err != nil {
		metrics.Checkouts.WithLabelValues("invalid_input").Inc()
		return Checkout{}, err
	}

	var out Checkout
	err := o.repo.WithTx(ctx, func(tx store.Tx) error {
		customerID, err := tx.CreateCustomer(ctx, &domain.Customer{
			SessionID: sessionID,
			Name:      info.Name,
			Email:     info.Email,
			Phone:     info.Phone,
			Address:   info.Address,
		})
		if err != nil {
			return err
		}
		orderID, err := tx.CreateOrder(ctx, &domain.Order{
			CustomerID: customerID,
			Amount:     amount,
			Status:     domain.OrderPending,
		})
		if err != nil {
			return err
		}
		out.CustomerID, out.OrderID = customerID, orderID
		return nil
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("create order: %w", err)
	}

	minor := domain.ToKobo(amount)
	gwCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	tx, err := o.gateway.Initialize(gwCtx, paystack.InitializeRequest{
		Email:     info.Email,
		Amount:    minor,
		Reference: o.newRef(),
		OrderID:   out.OrderID,
		SessionID: sessionID,
	})
	if err != nil {
		metrics.GatewayLatency.WithLabelValues("initialize", "error").Observe(time.Since(start).Seconds())
		metrics.Checkouts.WithLabelValues("upstream_error").Inc()
		slog.Warn("Checkout gateway call failed",
			"session_id", sessionID,
			"order_id", out.OrderID,
			"error", err)
		return Checkout{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	metrics.GatewayLatency.WithLabelValues("initialize", "ok").Observe(time.Since(start).Seconds())
	out.URL, out.Reference = tx.AuthorizationURL, tx.Reference

	err = o.repo.WithTx(ctx, func(t store.Tx) error {
		_, err := t.CreatePayment(ctx, &domain.Payment{
			OrderID:   out.OrderID,
			Reference: out.Reference,
			Amount:    minor,
			Status:    domain.PaymentPending,
		})
		return err
	})
	if err != nil {
		// The link is live; reconciliation can still resolve it through the
		// order id carried in the gateway metadata.
		slog.Error("Failed to record pending payment",
			"session_id", sessionID,
			"reference", out.Reference,
			"error", err)
	}

	metrics.Checkouts.WithLabelValues("created").Inc()
	slog.Info("Checkout created",
		"session_id", sessionID,
		"order_id", out.OrderID,
		"reference", out.Reference)
	return out, nil
}

func validate(sessionID string, info domain.CustomerInfo, amount int64) error {
	switch {
	case sessionID == "":
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	case info.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	case amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}
