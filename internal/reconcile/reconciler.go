package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/example/leadshop/internal/alert"
	"github.com/example/leadshop/internal/domain/order"
	"github.com/example/leadshop/internal/fulfillment"
	"github.com/example/leadshop/internal/infrastructure/store"
	"github.com/example/leadshop/internal/paypal"
)

// Outcome classifies a processed notification for the HTTP layer. The
// sender only ever sees 200 (handled or intentionally ignored) or a
// retryable non-2xx; the distinctions below are for us.
type Outcome int

const (
	// OutcomeRetry: verification could not complete (auth failure or
	// provider unreachable). Non-2xx so the provider re-sends.
	OutcomeRetry Outcome = iota
	// OutcomeIgnored: acknowledged without side effects (malformed,
	// unknown order, non-completed status, foreign receiver).
	OutcomeIgnored
	// OutcomeDuplicate: order already PAID/FULFILLED; acknowledged no-op.
	OutcomeDuplicate
	// OutcomeFlagged: amount or state mismatch; alert raised for manual
	// review, order untouched, never auto-fulfilled.
	OutcomeFlagged
	// OutcomePaid: fresh PAID transition; fulfillment enqueued.
	OutcomePaid
)

// Verifier authenticates a raw notification with the payment provider.
type Verifier interface {
	VerifyIPN(ctx context.Context, rawBody []byte) error
	ForBusiness(n paypal.Notification) bool
	ForCurrency(n paypal.Notification) bool
}

// Enqueuer hands a paid order off for asynchronous fulfillment.
type Enqueuer interface {
	Enqueue(ctx context.Context, job fulfillment.Job) error
}

// Reconciler matches verified payment notifications to orders: verify,
// parse, look up, mark paid exactly once, hand off fulfillment. The
// verification round trip happens before any store access, so no
// per-buyer lock is held during the slow external call.
type Reconciler struct {
	store    store.OrderStore
	verifier Verifier
	enqueuer Enqueuer
	alerts   *alert.Log
}

func NewReconciler(s store.OrderStore, v Verifier, e Enqueuer, alerts *alert.Log) *Reconciler {
	return &Reconciler{store: s, verifier: v, enqueuer: e, alerts: alerts}
}

// ProcessNotification treats rawBody as fully adversarial input: nothing
// is looked up, let alone mutated, until the provider confirms it.
func (r *Reconciler) ProcessNotification(ctx context.Context, rawBody []byte) Outcome {
	if err := r.verifier.VerifyIPN(ctx, rawBody); err != nil {
		if errors.Is(err, paypal.ErrVerificationFailed) {
			log.Printf("[Reconcile] IPN rejected: %v", err)
		} else {
			log.Printf("[Reconcile] IPN verification unavailable: %v", err)
		}
		return OutcomeRetry
	}

	n, err := paypal.ParseNotification(rawBody)
	if err != nil {
		// Verified but unusable. The provider cannot fix this by
		// retrying; log and drop.
		log.Printf("[Reconcile] Dropping malformed IPN: %v", err)
		return OutcomeIgnored
	}

	if !r.verifier.ForBusiness(n) {
		log.Printf("[Reconcile] Ignoring IPN for foreign receiver %s", n.Receiver)
		return OutcomeIgnored
	}
	if !n.Completed() {
		log.Printf("[Reconcile] Ignoring IPN with status %q txn=%s", n.PaymentStatus, n.TxnID)
		return OutcomeIgnored
	}
	if !r.verifier.ForCurrency(n) {
		// The gross is in the wrong unit; comparing it to the order
		// total would be meaningless. Money moved, so a human looks.
		r.alerts.Raise(ctx, alert.KindAmountMismatch, n.BuyerID,
			fmt.Sprintf("txn %s paid %s %s, wrong currency", n.TxnID, n.Gross.StringFixed(2), n.Currency))
		return OutcomeFlagged
	}

	o, fresh, err := r.store.MarkPaid(ctx, n.BuyerID, n.TxnID, n.Gross)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		// Already handled or a foreign event; the provider will not
		// retry usefully, so acknowledge quietly.
		log.Printf("[Reconcile] No order for buyer %s txn=%s", n.BuyerID, n.TxnID)
		return OutcomeIgnored
	case errors.Is(err, order.ErrAmountMismatch):
		r.alerts.Raise(ctx, alert.KindAmountMismatch, n.BuyerID,
			fmt.Sprintf("txn %s asserted %s", n.TxnID, n.Gross.StringFixed(2)))
		return OutcomeFlagged
	case errors.Is(err, order.ErrInvalidStatus):
		// Money moved for an order that was never confirmed. Needs a
		// human; the order stays untouched.
		r.alerts.Raise(ctx, alert.KindInvalidStateNotif, n.BuyerID,
			fmt.Sprintf("txn %s arrived for an unconfirmed order", n.TxnID))
		return OutcomeFlagged
	case err != nil:
		log.Printf("[Reconcile] Store error for buyer %s: %v", n.BuyerID, err)
		return OutcomeRetry
	}

	if !fresh {
		log.Printf("[Reconcile] Duplicate IPN for buyer %s txn=%s", n.BuyerID, n.TxnID)
		return OutcomeDuplicate
	}

	// The payment reference is durably recorded at this point. Hand off
	// and acknowledge; if the enqueue fails, the sweeper re-dispatches
	// PAID orders, so the payment is never lost.
	job := fulfillment.Job{BuyerID: o.BuyerID, PaymentRef: o.PaymentRef}
	if err := r.enqueuer.Enqueue(ctx, job); err != nil {
		log.Printf("[Reconcile] Enqueue failed for buyer %s (sweeper will recover): %v", o.BuyerID, err)
	}
	log.Printf("[Reconcile] Order paid buyer=%s txn=%s total=%s", o.BuyerID, o.PaymentRef, o.Total.StringFixed(2))
	return OutcomePaid
}
