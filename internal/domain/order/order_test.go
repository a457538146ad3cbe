package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// Toggle Tests
// ============================================

func TestOrder_Toggle_AddAndRemove(t *testing.T) {
	o := New("buyer-1")

	require.NoError(t, o.Toggle("cat-a"))
	assert.Equal(t, []string{"cat-a"}, o.Selected())

	require.NoError(t, o.Toggle("cat-a"))
	assert.Empty(t, o.Selected())
}

func TestOrder_Toggle_OddTogglesRemain(t *testing.T) {
	o := New("buyer-1")

	// cat-a toggled 3 times, cat-b twice, cat-c once
	for i := 0; i < 3; i++ {
		require.NoError(t, o.Toggle("cat-a"))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, o.Toggle("cat-b"))
	}
	require.NoError(t, o.Toggle("cat-c"))

	assert.Equal(t, []string{"cat-a", "cat-c"}, o.Selected())
}

func TestOrder_Toggle_FrozenAfterConfirm(t *testing.T) {
	o := New("buyer-1")
	require.NoError(t, o.Toggle("cat-a"))
	require.NoError(t, o.Confirm(decimal.NewFromInt(10)))

	err := o.Toggle("cat-b")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, []string{"cat-a"}, o.Selected())
}

// ============================================
// Confirm Tests
// ============================================

func TestOrder_Confirm_Success(t *testing.T) {
	o := New("buyer-1")
	require.NoError(t, o.Toggle("cat-a"))
	require.NoError(t, o.Toggle("cat-b"))

	total := decimal.RequireFromString("22.00")
	require.NoError(t, o.Confirm(total))

	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.True(t, o.Total.Equal(total))
}

func TestOrder_Confirm_EmptySelection(t *testing.T) {
	o := New("buyer-1")

	err := o.Confirm(decimal.Zero)
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.Equal(t, StatusOpen, o.Status)
}

func TestOrder_Confirm_Twice(t *testing.T) {
	o := New("buyer-1")
	require.NoError(t, o.Toggle("cat-a"))
	require.NoError(t, o.Confirm(decimal.NewFromInt(10)))

	err := o.Confirm(decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

// ============================================
// Pay Tests - State Transitions
// ============================================

func confirmedOrder(t *testing.T, total string) *Order {
	t.Helper()
	o := New("buyer-1")
	require.NoError(t, o.Toggle("cat-a"))
	require.NoError(t, o.Confirm(decimal.RequireFromString(total)))
	return o
}

func TestOrder_Pay_FreshTransition(t *testing.T) {
	o := confirmedOrder(t, "22.00")

	fresh, err := o.Pay("txn-1", decimal.RequireFromString("22.00"))

	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, "txn-1", o.PaymentRef)
}

func TestOrder_Pay_DuplicateSameReference(t *testing.T) {
	o := confirmedOrder(t, "22.00")
	_, err := o.Pay("txn-1", decimal.RequireFromString("22.00"))
	require.NoError(t, err)

	fresh, err := o.Pay("txn-1", decimal.RequireFromString("22.00"))

	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, "txn-1", o.PaymentRef)
}

func TestOrder_Pay_DifferentReferenceOnPaidOrder(t *testing.T) {
	o := confirmedOrder(t, "22.00")
	_, err := o.Pay("txn-1", decimal.RequireFromString("22.00"))
	require.NoError(t, err)

	fresh, err := o.Pay("txn-2", decimal.RequireFromString("22.00"))

	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, "txn-1", o.PaymentRef, "recorded reference must not change")
}

func TestOrder_Pay_AmountMismatch(t *testing.T) {
	o := confirmedOrder(t, "22.00")

	fresh, err := o.Pay("txn-1", decimal.RequireFromString("5.00"))

	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.False(t, fresh)
	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.Empty(t, o.PaymentRef)
}

func TestOrder_Pay_OnOpenOrder(t *testing.T) {
	o := New("buyer-1")

	fresh, err := o.Pay("txn-1", decimal.NewFromInt(10))

	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.False(t, fresh)
	assert.Equal(t, StatusOpen, o.Status)
}

// ============================================
// Fulfill Tests
// ============================================

func TestOrder_Fulfill_FromPaid(t *testing.T) {
	o := confirmedOrder(t, "22.00")
	_, err := o.Pay("txn-1", decimal.RequireFromString("22.00"))
	require.NoError(t, err)

	require.NoError(t, o.Fulfill())
	assert.Equal(t, StatusFulfilled, o.Status)
}

func TestOrder_Fulfill_Twice_NoOp(t *testing.T) {
	o := confirmedOrder(t, "22.00")
	_, err := o.Pay("txn-1", decimal.RequireFromString("22.00"))
	require.NoError(t, err)
	require.NoError(t, o.Fulfill())

	assert.NoError(t, o.Fulfill())
	assert.Equal(t, StatusFulfilled, o.Status)
}

func TestOrder_Fulfill_BeforePaid(t *testing.T) {
	o := confirmedOrder(t, "22.00")

	err := o.Fulfill()
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, StatusAwaitingPayment, o.Status)
}

// ============================================
// Transition Table Tests
// ============================================

func TestOrder_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusOpen, StatusAwaitingPayment, true},
		{StatusOpen, StatusPaid, false},
		{StatusAwaitingPayment, StatusPaid, true},
		{StatusAwaitingPayment, StatusFulfilled, false},
		{StatusPaid, StatusFulfilled, true},
		{StatusPaid, StatusAwaitingPayment, false},
		{StatusFulfilled, StatusPaid, false},
	}

	for _, tc := range cases {
		o := &Order{Status: tc.from}
		assert.Equal(t, tc.allowed, o.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOrder_Clone_Independent(t *testing.T) {
	o := New("buyer-1")
	require.NoError(t, o.Toggle("cat-a"))

	cp := o.Clone()
	require.NoError(t, cp.Toggle("cat-b"))

	assert.Equal(t, []string{"cat-a"}, o.Selected())
	assert.Equal(t, []string{"cat-a", "cat-b"}, cp.Selected())
}
