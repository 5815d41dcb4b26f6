// Package domain contains the canonical types shared by the orchestration
// services and the provider adapters: payment and shipment records, their
// status state machines, and the canonical webhook event.
package domain

import (
	"time"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/money"
)

// PaymentStatus is the canonical payment lifecycle state. Provider-native
// status vocabularies are mapped onto this enum by each adapter.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

// paymentTransitions is the full transition table. Terminal states
// (failed, cancelled, refunded) have no outgoing edges; completed may only
// move to refunded.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentFailed, PaymentCancelled},
	PaymentProcessing: {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentCompleted:  {PaymentRefunded},
}

// CanTransition reports whether from -> to is a legal payment transition.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// PaymentRecord is the persisted payment. Created once per distinct
// idempotency key and mutated only by the payment service.
type PaymentRecord struct {
	ID                string            `json:"id"`
	OrderID           string            `json:"order_id"`
	Provider          string            `json:"provider"`
	Region            string            `json:"region"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	Amount            money.Money       `json:"amount"`
	Status            PaymentStatus     `json:"status"`
	IdempotencyKey    string            `json:"idempotency_key"`
	RedirectURL       string            `json:"redirect_url,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	RefundedAt        *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewPaymentRecord creates a provisional pending record.
func NewPaymentRecord(id, orderID, provider, region string, amount money.Money, idempotencyKey string, metadata map[string]string) *PaymentRecord {
	now := time.Now().UTC()
	return &PaymentRecord{
		ID:             id,
		OrderID:        orderID,
		Provider:       provider,
		Region:         region,
		Amount:         amount,
		Status:         PaymentPending,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the record to the target status, rejecting anything the
// state machine forbids. A same-status transition is a no-op.
func (p *PaymentRecord) Transition(to PaymentStatus) error {
	if p.Status == to {
		return nil
	}
	if !p.Status.CanTransition(to) {
		return &apperror.IllegalStateTransitionError{
			Entity: "payment",
			ID:     p.ID,
			From:   string(p.Status),
			To:     string(to),
		}
	}

	now := time.Now().UTC()
	p.Status = to
	p.UpdatedAt = now

	switch to {
	case PaymentCompleted:
		p.CompletedAt = &now
	case PaymentRefunded:
		p.RefundedAt = &now
	}
	return nil
}

// MarkFailed transitions to failed and records the provider's error.
func (p *PaymentRecord) MarkFailed(code, message string) error {
	if err := p.Transition(PaymentFailed); err != nil {
		return err
	}
	p.ErrorCode = code
	p.ErrorMessage = message
	return nil
}
