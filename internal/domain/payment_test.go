package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/money"
)

func TestPaymentStatusCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{name: "pending to processing", from: PaymentPending, to: PaymentProcessing, allowed: true},
		{name: "pending to failed", from: PaymentPending, to: PaymentFailed, allowed: true},
		{name: "pending to cancelled", from: PaymentPending, to: PaymentCancelled, allowed: true},
		{name: "pending to completed skips processing", from: PaymentPending, to: PaymentCompleted, allowed: false},
		{name: "processing to completed", from: PaymentProcessing, to: PaymentCompleted, allowed: true},
		{name: "processing to failed", from: PaymentProcessing, to: PaymentFailed, allowed: true},
		{name: "processing back to pending", from: PaymentProcessing, to: PaymentPending, allowed: false},
		{name: "completed to refunded", from: PaymentCompleted, to: PaymentRefunded, allowed: true},
		{name: "completed to failed", from: PaymentCompleted, to: PaymentFailed, allowed: false},
		{name: "failed is terminal", from: PaymentFailed, to: PaymentPending, allowed: false},
		{name: "cancelled is terminal", from: PaymentCancelled, to: PaymentProcessing, allowed: false},
		{name: "refunded is terminal", from: PaymentRefunded, to: PaymentCompleted, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	assert.False(t, PaymentPending.IsTerminal())
	assert.False(t, PaymentProcessing.IsTerminal())
	assert.False(t, PaymentCompleted.IsTerminal())
	assert.True(t, PaymentFailed.IsTerminal())
	assert.True(t, PaymentCancelled.IsTerminal())
	assert.True(t, PaymentRefunded.IsTerminal())
}

func TestPaymentRecordTransition(t *testing.T) {
	record := NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(100000, money.INR), "key-1", nil)
	require.Equal(t, PaymentPending, record.Status)

	require.NoError(t, record.Transition(PaymentProcessing))
	require.NoError(t, record.Transition(PaymentCompleted))
	require.NotNil(t, record.CompletedAt)

	require.NoError(t, record.Transition(PaymentRefunded))
	require.NotNil(t, record.RefundedAt)
}

func TestPaymentRecordTransitionRejectsIllegal(t *testing.T) {
	record := NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(100000, money.INR), "key-1", nil)

	err := record.Transition(PaymentCompleted)
	require.Error(t, err)
	assert.True(t, apperror.IsIllegalTransition(err))
	assert.Equal(t, PaymentPending, record.Status, "failed transition must not mutate the record")
}

func TestPaymentRecordTransitionSameStatusIsNoop(t *testing.T) {
	record := NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(100000, money.INR), "key-1", nil)
	before := record.UpdatedAt

	require.NoError(t, record.Transition(PaymentPending))
	assert.Equal(t, before, record.UpdatedAt)
}

func TestPaymentRecordMarkFailed(t *testing.T) {
	record := NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(100000, money.INR), "key-1", nil)

	require.NoError(t, record.MarkFailed("BAD_REQUEST_ERROR", "card declined"))
	assert.Equal(t, PaymentFailed, record.Status)
	assert.Equal(t, "BAD_REQUEST_ERROR", record.ErrorCode)
	assert.Equal(t, "card declined", record.ErrorMessage)

}

func TestPaymentRecordMarkFailedAfterCompletion(t *testing.T) {
	record := NewPaymentRecord("pay_1", "ord_1", "razorpay", "IN",
		money.New(100000, money.INR), "key-1", nil)
	require.NoError(t, record.Transition(PaymentProcessing))
	require.NoError(t, record.Transition(PaymentCompleted))

	require.Error(t, record.MarkFailed("LATE", "late failure"))
	assert.Equal(t, PaymentCompleted, record.Status)
	assert.Empty(t, record.ErrorCode)
}
