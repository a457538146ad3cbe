package reconcile

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/leadshop/internal/alert"
	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/example/leadshop/internal/domain/order"
	"github.com/example/leadshop/internal/fulfillment"
	"github.com/example/leadshop/internal/infrastructure/store"
	"github.com/example/leadshop/internal/paypal"
)

// ==========================================
// Fakes
// ==========================================

type fakeVerifier struct {
	verifyErr   error
	foreignRecv bool
	calls       int
}

func (f *fakeVerifier) VerifyIPN(ctx context.Context, rawBody []byte) error {
	f.calls++
	return f.verifyErr
}

func (f *fakeVerifier) ForBusiness(n paypal.Notification) bool {
	return !f.foreignRecv
}

func (f *fakeVerifier) ForCurrency(n paypal.Notification) bool {
	return strings.EqualFold(n.Currency, "USD")
}

type fakeEnqueuer struct {
	jobs []fulfillment.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job fulfillment.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

// ==========================================
// Helpers
// ==========================================

func newTestReconciler(t *testing.T) (*Reconciler, *store.MemoryStore, *fakeVerifier, *fakeEnqueuer, *alert.Log) {
	t.Helper()
	cat, err := catalog.New([]catalog.Category{
		{ID: "re-ca", Label: "Real Estate CA", Price: decimal.RequireFromString("10.00"), Artifact: "re_ca.csv"},
		{ID: "ins-fl", Label: "Insurance FL", Price: decimal.RequireFromString("12.00"), Artifact: "ins_fl.csv"},
	})
	require.NoError(t, err)

	s := store.NewMemoryStore(cat)
	v := &fakeVerifier{}
	e := &fakeEnqueuer{}
	alerts := alert.NewLog(nil)
	return NewReconciler(s, v, e, alerts), s, v, e, alerts
}

func awaitingOrder(t *testing.T, s *store.MemoryStore, buyerID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateOrReset(ctx, buyerID)
	require.NoError(t, err)
	_, err = s.ToggleCategory(ctx, buyerID, "re-ca")
	require.NoError(t, err)
	_, err = s.ToggleCategory(ctx, buyerID, "ins-fl")
	require.NoError(t, err)
	_, err = s.Confirm(ctx, buyerID)
	require.NoError(t, err)
}

func ipnBody(buyerID, txnID, gross, status string) []byte {
	return ipnBodyCurrency(buyerID, txnID, gross, status, "USD")
}

func ipnBodyCurrency(buyerID, txnID, gross, status, currency string) []byte {
	v := url.Values{}
	v.Set("payment_status", status)
	v.Set("txn_id", txnID)
	v.Set("custom", buyerID)
	v.Set("mc_gross", gross)
	v.Set("mc_currency", currency)
	v.Set("receiver_email", "shop@example.com")
	return []byte(v.Encode())
}

// ==========================================
// Tests
// ==========================================

func TestProcessNotification_FreshPayment(t *testing.T) {
	r, s, _, e, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Completed"))

	assert.Equal(t, OutcomePaid, outcome)
	require.Len(t, e.jobs, 1)
	assert.Equal(t, fulfillment.Job{BuyerID: "buyer-1", PaymentRef: "TXN-1"}, e.jobs[0])

	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, "TXN-1", o.PaymentRef)
}

func TestProcessNotification_DuplicateEnqueuesNothing(t *testing.T) {
	r, s, _, e, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")
	body := ipnBody("buyer-1", "TXN-1", "22.00", "Completed")

	require.Equal(t, OutcomePaid, r.ProcessNotification(context.Background(), body))
	outcome := r.ProcessNotification(context.Background(), body)

	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, e.jobs, 1, "duplicate must not enqueue a second job")
}

func TestProcessNotification_VerificationFailure(t *testing.T) {
	r, s, v, e, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")
	v.verifyErr = paypal.ErrVerificationFailed

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Completed"))

	assert.Equal(t, OutcomeRetry, outcome)
	assert.Empty(t, e.jobs)

	// order untouched
	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, o.Status)
}

func TestProcessNotification_ProviderUnreachable(t *testing.T) {
	r, s, v, _, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")
	v.verifyErr = errors.New("dial tcp: connection refused")

	assert.Equal(t, OutcomeRetry, r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Completed")))
}

func TestProcessNotification_Malformed(t *testing.T) {
	r, _, _, e, _ := newTestReconciler(t)

	outcome := r.ProcessNotification(context.Background(), []byte("payment_status=Completed"))

	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, e.jobs)
}

func TestProcessNotification_ForeignReceiver(t *testing.T) {
	r, s, v, e, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")
	v.foreignRecv = true

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Completed"))

	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, e.jobs)
}

func TestProcessNotification_NonCompletedStatus(t *testing.T) {
	r, s, _, e, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Pending"))

	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, e.jobs)

	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, o.Status)
}

func TestProcessNotification_UnknownOrder(t *testing.T) {
	r, _, _, e, _ := newTestReconciler(t)

	outcome := r.ProcessNotification(context.Background(), ipnBody("ghost", "TXN-1", "22.00", "Completed"))

	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, e.jobs)
}

func TestProcessNotification_AmountMismatch(t *testing.T) {
	r, s, _, e, alerts := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "5.00", "Completed"))

	assert.Equal(t, OutcomeFlagged, outcome)
	assert.Empty(t, e.jobs)

	list := alerts.List()
	require.Len(t, list, 1)
	assert.Equal(t, alert.KindAmountMismatch, list[0].Kind)
	assert.Equal(t, "buyer-1", list[0].BuyerID)

	// order stays awaiting payment for manual review
	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, o.Status)
	assert.Empty(t, o.PaymentRef)
}

func TestProcessNotification_WrongCurrency(t *testing.T) {
	r, s, _, e, alerts := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")

	// the numbers match but the unit does not: 22.00 MXN is not 22.00 USD
	outcome := r.ProcessNotification(context.Background(), ipnBodyCurrency("buyer-1", "TXN-1", "22.00", "Completed", "MXN"))

	assert.Equal(t, OutcomeFlagged, outcome)
	assert.Empty(t, e.jobs)

	list := alerts.List()
	require.Len(t, list, 1)
	assert.Equal(t, alert.KindAmountMismatch, list[0].Kind)
	assert.Contains(t, list[0].Detail, "MXN")

	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, o.Status)
	assert.Empty(t, o.PaymentRef)
}

func TestProcessNotification_UnconfirmedOrder(t *testing.T) {
	r, s, _, e, alerts := newTestReconciler(t)
	_, err := s.CreateOrReset(context.Background(), "buyer-1")
	require.NoError(t, err)

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Completed"))

	assert.Equal(t, OutcomeFlagged, outcome)
	assert.Empty(t, e.jobs)

	list := alerts.List()
	require.Len(t, list, 1)
	assert.Equal(t, alert.KindInvalidStateNotif, list[0].Kind)

	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, o.Status)
}

func TestProcessNotification_EnqueueFailureStillPaid(t *testing.T) {
	r, s, _, e, _ := newTestReconciler(t)
	awaitingOrder(t, s, "buyer-1")
	e.err = errors.New("broker unavailable")

	outcome := r.ProcessNotification(context.Background(), ipnBody("buyer-1", "TXN-1", "22.00", "Completed"))

	// payment is durable; the sweeper re-dispatches
	assert.Equal(t, OutcomePaid, outcome)
	o, err := s.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
}
