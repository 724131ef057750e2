package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/paystack"
	"github.com/meleki1/salesagent/internal/session"
	"github.com/meleki1/salesagent/internal/store"
)

const secret = "sk_test_secret"

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, _, _, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

type fixture struct {
	repo     *store.SQLiteStore
	sessions *session.Store
	notifier *recordingNotifier
	rec      *Reconciler
	orderID  int64
}

// newFixture seeds session S with a pending checkout under reference R and
// leaves the session locked on it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	f := &fixture{
		repo:     repo,
		sessions: session.NewStore(repo),
		notifier: &recordingNotifier{},
	}
	f.rec = New(Config{
		Secret:   secret,
		Repo:     repo,
		Sessions: f.sessions,
		Notifier: f.notifier,
	})

	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error {
		customerID, err := tx.CreateCustomer(ctx, &domain.Customer{SessionID: "S", Name: "Ada Lovelace", Email: "ada@example.com"})
		if err != nil {
			return err
		}
		f.orderID, err = tx.CreateOrder(ctx, &domain.Order{CustomerID: customerID, Amount: 27000})
		if err != nil {
			return err
		}
		_, err = tx.CreatePayment(ctx, &domain.Payment{OrderID: f.orderID, Reference: "R", Amount: 2700000, Status: domain.PaymentPending})
		return err
	}))

	require.NoError(t, f.sessions.With(ctx, "S", func(s *session.Session) error {
		s.Channel = "web"
		s.Append(domain.RoleUser, "name: Ada Lovelace", time.Now())
		s.State = domain.StateAwaitingPayment
		s.Lock(time.Now())
		s.AttachCheckout("https://checkout.paystack.com/R", "R", f.orderID)
		return nil
	}))
	return f
}

func chargeSuccess(reference string, amount int64, orderID int64) []byte {
	meta := `""`
	if orderID != 0 {
		meta = fmt.Sprintf(`{"order_id":"%d"}`, orderID)
	}
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":%d,"status":"success","metadata":%s}}`, reference, amount, meta))
}

func confirmations(t *testing.T, sessions *session.Store) int {
	t.Helper()
	s, ok, err := sessions.Peek(context.Background(), "S")
	require.NoError(t, err)
	require.True(t, ok)
	n := 0
	for _, m := range s.Messages() {
		if m.Role == domain.RoleAssistant {
			n++
		}
	}
	return n
}

func TestApplyReleasesSessionOnceAcrossRedeliveries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	body := chargeSuccess("R", 2700000, 0)
	sig := paystack.Sign(secret, body)

	res, err := f.rec.Apply(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, Applied, res)

	for range 3 {
		res, err := f.rec.Apply(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res)
	}

	order, err := f.repo.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, order.Status)

	s, _, err := f.sessions.Peek(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollecting, s.State)
	assert.False(t, s.Locked())
	assert.Empty(t, s.PaymentURL())

	require.Equal(t, 1, f.notifier.count(), "confirmation dispatched exactly once")
	assert.NotEmpty(t, f.notifier.texts[0])
	assert.Equal(t, 1, confirmations(t, f.sessions))
}

func TestApplyConcurrentRedeliveries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	body := chargeSuccess("R", 2700000, f.orderID)
	sig := paystack.Sign(secret, body)

	results := make(chan Result, 3)
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.rec.Apply(context.Background(), body, sig)
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if res == Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, confirmations(t, f.sessions))
}

func TestApplyRejectsTamperedSignature(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	body := chargeSuccess("R", 2700000, 0)
	sig := paystack.Sign(secret, body)
	tampered := chargeSuccess("R", 1, 0)

	res, err := f.rec.Apply(ctx, tampered, sig)
	assert.Equal(t, Rejected, res)
	assert.ErrorIs(t, err, paystack.ErrInvalidSignature)

	res, err = f.rec.Apply(ctx, body, "")
	assert.Equal(t, Rejected, res)
	assert.ErrorIs(t, err, paystack.ErrMissingSignature)

	payment, err := f.repo.GetPaymentByReference(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, payment.Status)
	order, err := f.repo.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)

	s, _, _ := f.sessions.Peek(ctx, "S")
	assert.True(t, s.Locked())
	assert.Zero(t, f.notifier.count())
}

func TestApplyMalformedAndIgnoredEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	malformed := []byte(`{"event":`)
	res, err := f.rec.Apply(ctx, malformed, paystack.Sign(secret, malformed))
	assert.Equal(t, Rejected, res)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	noRef := []byte(`{"event":"charge.success","data":{"amount":100}}`)
	res, err = f.rec.Apply(ctx, noRef, paystack.Sign(secret, noRef))
	assert.Equal(t, Rejected, res)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	transfer := []byte(`{"event":"transfer.success","data":{"reference":"R"}}`)
	res, err = f.rec.Apply(ctx, transfer, paystack.Sign(secret, transfer))
	require.NoError(t, err)
	assert.Equal(t, Ignored, res)

	order, err := f.repo.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
}

func TestApplyUnresolvedReference(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	body := chargeSuccess("R-unknown", 500000, 0)
	res, err := f.rec.Apply(ctx, body, paystack.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, Unresolved, res)

	unresolved, err := f.repo.UnresolvedPayments(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "R-unknown", unresolved[0].Reference)
	assert.Zero(t, f.notifier.count())
}

func TestApplyKeepsLockOfNewerCheckout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// The customer abandoned R and started a second checkout.
	require.NoError(t, f.sessions.With(ctx, "S", func(s *session.Session) error {
		s.Unlock(time.Now())
		s.Lock(time.Now())
		s.AttachCheckout("https://checkout.paystack.com/R2", "R2", f.orderID+100)
		return nil
	}))

	body := chargeSuccess("R", 2700000, 0)
	res, err := f.rec.Apply(ctx, body, paystack.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, Applied, res)

	s, _, _ := f.sessions.Peek(ctx, "S")
	assert.True(t, s.Locked())
	assert.Equal(t, "R2", s.Pending.Reference)
	assert.Equal(t, 1, f.notifier.count())
}

func TestSettleWithoutNotifyReturnsConfirmation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, text := f.rec.Settle(ctx, store.ChargeSuccess{Reference: "R", Amount: 2700000}, SourceVerify)
	assert.Equal(t, Applied, res)
	assert.Contains(t, text, "Payment received")
	assert.Zero(t, f.notifier.count())

	// The webhook arriving afterwards is a duplicate and stays quiet.
	body := chargeSuccess("R", 2700000, 0)
	res, err := f.rec.Apply(ctx, body, paystack.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)
	assert.Zero(t, f.notifier.count())
	assert.Equal(t, 1, confirmations(t, f.sessions))
}

func TestRedeliveryLeavesNextOrderAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	body := chargeSuccess("R", 2700000, 0)
	sig := paystack.Sign(secret, body)
	res, err := f.rec.Apply(ctx, body, sig)
	require.NoError(t, err)
	require.Equal(t, Applied, res)

	// The customer confirms a second order and is waiting to pay for it.
	require.NoError(t, f.sessions.With(ctx, "S", func(s *session.Session) error {
		s.Append(domain.RoleUser, "confirm", time.Now())
		s.State = domain.StateAwaitingPayment
		return nil
	}))
	before := confirmations(t, f.sessions)

	res, err = f.rec.Apply(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	s, _, err := f.sessions.Peek(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, s.State)
	assert.Equal(t, before, confirmations(t, f.sessions))
	assert.Equal(t, 1, f.notifier.count())
}

// holdSession keeps S's critical section busy until the returned func is called.
func holdSession(t *testing.T, sessions *session.Store) (release func()) {
	t.Helper()
	entered := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = sessions.With(context.Background(), "S", func(*session.Session) error {
			close(entered)
			<-done
			return nil
		})
	}()
	<-entered
	return func() {
		close(done)
		<-finished
	}
}

func TestApplyWaitsOutBusyChatTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	release := holdSession(t, f.sessions)
	go func() {
		time.Sleep(300 * time.Millisecond)
		release()
	}()

	// The caller gives up long before the session frees; settling continues.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	body := chargeSuccess("R", 2700000, 0)
	res, err := f.rec.Apply(ctx, body, paystack.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, Applied, res)

	assert.Equal(t, 1, f.notifier.count())
	s, _, err := f.sessions.Peek(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollecting, s.State)
}

func TestPendingConfirmationCompletedByRedelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := New(Config{
		Secret:        secret,
		Repo:          f.repo,
		Sessions:      f.sessions,
		Notifier:      f.notifier,
		SettleTimeout: 50 * time.Millisecond,
	})
	ctx := context.Background()
	body := chargeSuccess("R", 2700000, 0)
	sig := paystack.Sign(secret, body)

	release := holdSession(t, f.sessions)
	res, err := rec.Apply(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, Applied, res)
	assert.Zero(t, f.notifier.count(), "session busy, nothing delivered yet")
	release()

	order, err := f.repo.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, order.Status)

	for range 3 {
		res, err := rec.Apply(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res)
	}

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, confirmations(t, f.sessions))
	s, _, err := f.sessions.Peek(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollecting, s.State)
	assert.False(t, s.Locked())
}

func TestResumeConfirmationsDeliversOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := New(Config{
		Secret:        secret,
		Repo:          f.repo,
		Sessions:      f.sessions,
		Notifier:      f.notifier,
		SettleTimeout: 50 * time.Millisecond,
	})
	ctx := context.Background()
	body := chargeSuccess("R", 2700000, 0)

	release := holdSession(t, f.sessions)
	res, err := rec.Apply(ctx, body, paystack.Sign(secret, body))
	require.NoError(t, err)
	require.Equal(t, Applied, res)
	release()

	n, err := rec.ResumeConfirmations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = rec.ResumeConfirmations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, confirmations(t, f.sessions))
}
