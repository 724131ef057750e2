package checkout

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/store"
)

type fakeGateway struct {
	calls atomic.Int32
	last  paystack.InitializeRequest
	err   error
	block bool
}

func (g *fakeGateway) Initialize(ctx context.Context, in paystack.InitializeRequest) (paystack.Transaction, error) {
	g.calls.Add(1)
	g.last = in
	if g.block {
		<-ctx.Done()
		return paystack.Transaction{}, ctx.Err()
	}
	if g.err != nil {
		return paystack.Transaction{}, g.err
	}
	return paystack.Transaction{
		AuthorizationURL: "https://checkout.paystack.com/" + in.Reference,
		Reference:        in.Reference,
	}, nil
}

var ada = domain.CustomerInfo{
	Name:    "Ada Lovelace",
	Email:   "ada@example.com",
	Phone:   "08031234567",
	Address: "12 Main St, Lagos",
}

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestCreateCheckoutPersistsChain(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	gw := &fakeGateway{}
	o := New(repo, gw, time.Second)
	o.newRef = func() string { return "R" }

	got, err := o.CreateCheckout(context.Background(), "S", ada, 27000)
	require.NoError(t, err)
	assert.Equal(t, "R", got.Reference)
	assert.Equal(t, "https://checkout.paystack.com/R", got.URL)

	assert.Equal(t, int64(2700000), gw.last.Amount, "gateway receives kobo")
	assert.Equal(t, "ada@example.com", gw.last.Email)
	assert.Equal(t, got.OrderID, gw.last.OrderID)

	order, err := repo.GetOrder(context.Background(), got.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(27000), order.Amount)
	assert.Equal(t, domain.OrderPending, order.Status)

	payment, err := repo.GetPaymentByReference(context.Background(), "R")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, payment.Status)
	assert.Equal(t, got.OrderID, payment.OrderID)
	assert.Equal(t, int64(2700000), payment.Amount)
}

func TestCreateCheckoutRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	gw := &fakeGateway{}
	o := New(repo, gw, time.Second)

	tests := []struct {
		name      string
		sessionID string
		info      domain.CustomerInfo
		amount    int64
	}{
		{"missing email", "S", domain.CustomerInfo{Name: "Ada"}, 27000},
		{"zero amount", "S", ada, 0},
		{"negative amount", "S", ada, -5},
		{"missing session", "", ada, 27000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.CreateCheckout(context.Background(), tt.sessionID, tt.info, tt.amount)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Zero(t, gw.calls.Load(), "invalid input must never reach the gateway")
}

func TestCreateCheckoutGatewayFailure(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	gw := &fakeGateway{err: &paystack.APIError{StatusCode: 502, Message: "bad gateway"}}
	o := New(repo, gw, time.Second)
	o.newRef = func() string { return "R-fail" }

	_, err := o.CreateCheckout(context.Background(), "S", ada, 27000)
	require.ErrorIs(t, err, ErrUpstream)

	var apiErr *paystack.APIError
	assert.True(t, errors.As(err, &apiErr), "cause is preserved")

	_, err = repo.GetPaymentByReference(context.Background(), "R-fail")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateCheckoutGatewayTimeout(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	o := New(repo, &fakeGateway{block: true}, 30*time.Millisecond)

	_, err := o.CreateCheckout(context.Background(), "S", ada, 27000)
	require.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateCheckoutRetryCreatesFreshOrder(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	gw := &fakeGateway{err: errors.New("connection refused")}
	o := New(repo, gw, time.Second)

	_, err := o.CreateCheckout(context.Background(), "S", ada, 27000)
	require.Error(t, err)

	gw.err = nil
	first, err := o.CreateCheckout(context.Background(), "S", ada, 27000)
	require.NoError(t, err)
	second, err := o.CreateCheckout(context.Background(), "S", ada, 27000)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.NotEqual(t, first.Reference, second.Reference, "uuid references are unique")
}
