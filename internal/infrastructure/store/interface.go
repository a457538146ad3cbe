package store

import (
	"context"

	"github.com/example/leadshop/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderStore owns the buyer -> order mapping. All mutating operations on
// the same buyer are serialized; distinct buyers never block one another.
// No caller may mutate an order outside this interface.
type OrderStore interface {
	// CreateOrReset starts a fresh OPEN order, discarding any prior
	// unpaid one. Returns order.ErrInvalidStatus if the buyer's current
	// order is PAID or FULFILLED.
	CreateOrReset(ctx context.Context, buyerID string) (*order.Order, error)

	// ToggleCategory adds or removes a category on an OPEN order.
	// Returns order.ErrUnknownCategory for IDs not in the catalog.
	ToggleCategory(ctx context.Context, buyerID, categoryID string) (*order.Order, error)

	// Confirm computes the total from catalog prices and moves
	// OPEN -> AWAITING_PAYMENT.
	Confirm(ctx context.Context, buyerID string) (*order.Order, error)

	// MarkPaid applies a verified payment. fresh is true only on the
	// single AWAITING_PAYMENT -> PAID transition; a duplicate
	// notification returns the current state with fresh=false and no
	// error. The payment reference is durably recorded before return.
	MarkPaid(ctx context.Context, buyerID, paymentRef string, amount decimal.Decimal) (o *order.Order, fresh bool, err error)

	// MarkFulfilled moves PAID -> FULFILLED; no-op if already FULFILLED.
	MarkFulfilled(ctx context.Context, buyerID string) (*order.Order, error)

	Get(ctx context.Context, buyerID string) (*order.Order, error)

	// ListByStatus feeds the fulfillment recovery sweeper.
	ListByStatus(ctx context.Context, status order.Status) ([]*order.Order, error)
}
