package domain

import (
	"encoding/json"
	"time"
)

// WebhookEventType classifies a canonical webhook event.
type WebhookEventType string

const (
	// WebhookPaymentPending is the conservative fallback for provider
	// events with no canonical mapping.
	WebhookPaymentPending    WebhookEventType = "payment.pending"
	WebhookPaymentAuthorized WebhookEventType = "payment.authorized"
	WebhookPaymentCompleted  WebhookEventType = "payment.completed"
	WebhookPaymentFailed     WebhookEventType = "payment.failed"
	WebhookPaymentCancelled  WebhookEventType = "payment.cancelled"
	WebhookPaymentRefunded   WebhookEventType = "payment.refunded"
	WebhookShipmentUpdate    WebhookEventType = "shipment.update"
)

// WebhookEvent is the canonical form every provider callback is parsed into.
// The raw payload is kept only for the audit entry.
type WebhookEvent struct {
	ID                string           `json:"id"`
	Provider          string           `json:"provider"`
	Type              WebhookEventType `json:"type"`
	ProviderPaymentID string           `json:"provider_payment_id,omitempty"`
	TrackingNumber    string           `json:"tracking_number,omitempty"`
	ShipmentStatus    ShipmentStatus   `json:"shipment_status,omitempty"`
	ErrorCode         string           `json:"error_code,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	RawPayload        json.RawMessage  `json:"-"`
	ReceivedAt        time.Time        `json:"received_at"`
}

// PaymentStatus returns the canonical payment status the event carries, and
// whether it is a payment event at all.
func (e *WebhookEvent) PaymentStatus() (PaymentStatus, bool) {
	switch e.Type {
	case WebhookPaymentPending:
		return PaymentPending, true
	case WebhookPaymentAuthorized:
		return PaymentProcessing, true
	case WebhookPaymentCompleted:
		return PaymentCompleted, true
	case WebhookPaymentFailed:
		return PaymentFailed, true
	case WebhookPaymentCancelled:
		return PaymentCancelled, true
	case WebhookPaymentRefunded:
		return PaymentRefunded, true
	}
	return "", false
}
