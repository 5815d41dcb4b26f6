package payments

import (
	"context"
	"time"

	"commercegate/internal/common/events"
	"commercegate/internal/domain"
)

// Event subjects published by the payment service.
const (
	SubjectPaymentInitiated = "payment.initiated.v1"
	SubjectPaymentCompleted = "payment.completed.v1"
	SubjectPaymentFailed    = "payment.failed.v1"
	SubjectPaymentRefunded  = "payment.refunded.v1"
)

// PaymentEvent is the payload for all payment lifecycle events.
type PaymentEvent struct {
	PaymentID         string               `json:"payment_id"`
	OrderID           string               `json:"order_id"`
	Provider          string               `json:"provider"`
	Region            string               `json:"region"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty"`
	AmountMinor       int64                `json:"amount_minor"`
	Currency          string               `json:"currency"`
	Status            domain.PaymentStatus `json:"status"`
	ErrorCode         string               `json:"error_code,omitempty"`
	Timestamp         time.Time            `json:"timestamp"`
}

// publish emits a payment lifecycle event. Publishing is best-effort: a
// broker outage never fails the payment operation itself.
func (s *Service) publish(ctx context.Context, subject string, record *domain.PaymentRecord) {
	payload := PaymentEvent{
		PaymentID:         record.ID,
		OrderID:           record.OrderID,
		Provider:          record.Provider,
		Region:            record.Region,
		ProviderPaymentID: record.ProviderPaymentID,
		AmountMinor:       record.Amount.AmountMinor,
		Currency:          string(record.Amount.Currency),
		Status:            record.Status,
		ErrorCode:         record.ErrorCode,
		Timestamp:         time.Now().UTC(),
	}

	env, err := events.NewEnvelope(subject, record.ID, payload)
	if err != nil {
		s.logger.Error("failed to build payment event", "error", err, "subject", subject)
		return
	}
	if err := s.publisher.Publish(ctx, subject, env); err != nil {
		s.logger.Error("failed to publish payment event",
			"error", err,
			"subject", subject,
			"payment_id", record.ID,
			"status", record.Status,
		)
	}
}
