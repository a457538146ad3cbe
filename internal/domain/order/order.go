package order

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusFulfilled       Status = "FULFILLED"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptySelection  = errors.New("order must have at least one category selected")
	ErrInvalidStatus   = errors.New("invalid order status transition")
	ErrAmountMismatch  = errors.New("asserted amount does not match order total")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusOpen:            {StatusAwaitingPayment},
	StatusAwaitingPayment: {StatusPaid},
	StatusPaid:            {StatusFulfilled},
	StatusFulfilled:       {}, // terminal state
}

// Order is one buyer's pending or completed purchase. The buyer ID is the
// chat account identifier and the unique key; there is at most one order
// per buyer at a time.
type Order struct {
	BuyerID    string          `json:"buyer_id"`
	Categories map[string]bool `json:"categories"`
	Total      decimal.Decimal `json:"total"`
	Status     Status          `json:"status"`
	PaymentRef string          `json:"payment_ref,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func New(buyerID string) *Order {
	now := time.Now()
	return &Order{
		BuyerID:    buyerID,
		Categories: make(map[string]bool),
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (o *Order) transitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
}

// Toggle adds the category if absent and removes it if present. The
// selection is frozen once the order leaves OPEN.
func (o *Order) Toggle(categoryID string) error {
	if o.Status != StatusOpen {
		return fmt.Errorf("%w: selection is frozen in status %s", ErrInvalidStatus, o.Status)
	}
	if o.Categories[categoryID] {
		delete(o.Categories, categoryID)
	} else {
		o.Categories[categoryID] = true
	}
	o.UpdatedAt = time.Now()
	return nil
}

// Confirm freezes the selection and records the total computed by the
// caller from catalog prices.
func (o *Order) Confirm(total decimal.Decimal) error {
	if !o.CanTransitionTo(StatusAwaitingPayment) {
		return o.transitionError(StatusAwaitingPayment)
	}
	if len(o.Categories) == 0 {
		return ErrEmptySelection
	}
	o.Total = total
	o.Status = StatusAwaitingPayment
	o.UpdatedAt = time.Now()
	return nil
}

// Pay applies a verified payment notification. It returns fresh=true on
// the single AWAITING_PAYMENT -> PAID transition. A repeated notification
// for an order already PAID or FULFILLED is an acknowledged no-op
// (fresh=false, nil error), whether or not the reference matches: the
// recorded reference and total never change after the first transition.
func (o *Order) Pay(paymentRef string, amount decimal.Decimal) (bool, error) {
	switch o.Status {
	case StatusPaid, StatusFulfilled:
		return false, nil
	case StatusAwaitingPayment:
		if !amount.Equal(o.Total) {
			return false, fmt.Errorf("%w: asserted %s, total %s", ErrAmountMismatch, amount, o.Total)
		}
		o.Status = StatusPaid
		o.PaymentRef = paymentRef
		o.UpdatedAt = time.Now()
		return true, nil
	default:
		return false, o.transitionError(StatusPaid)
	}
}

// Fulfill marks delivery complete. Fulfilling twice is a no-op.
func (o *Order) Fulfill() error {
	if o.Status == StatusFulfilled {
		return nil
	}
	if !o.CanTransitionTo(StatusFulfilled) {
		return o.transitionError(StatusFulfilled)
	}
	o.Status = StatusFulfilled
	o.UpdatedAt = time.Now()
	return nil
}

// Selected returns the selected category IDs in stable order.
func (o *Order) Selected() []string {
	ids := make([]string, 0, len(o.Categories))
	for id := range o.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy so stores never hand out shared mutable state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Categories = make(map[string]bool, len(o.Categories))
	for id, v := range o.Categories {
		cp.Categories[id] = v
	}
	return &cp
}
