// Package providers defines the uniform capability interfaces every
// external payment and shipping provider is adapted to. All checkout and
// fulfillment logic above this layer is provider-agnostic; each adapter
// privately owns the translation to its provider's wire format and status
// vocabulary.
package providers

import (
	"context"
	"time"

	"commercegate/internal/common/money"
	"commercegate/internal/domain"
)

// CreatePaymentRequest is the provider-facing payment creation request.
// Reference is the internal payment record ID and is echoed back through
// provider receipts and webhooks.
type CreatePaymentRequest struct {
	Reference       string
	OrderID         string
	Amount          money.Money
	Customer        domain.Customer
	BillingAddress  domain.Address
	ShippingAddress domain.Address
	LineItems       []domain.LineItem
	Metadata        map[string]string
}

// PaymentResult is the normalized outcome of a payment operation.
type PaymentResult struct {
	ProviderPaymentID string
	Status            domain.PaymentStatus
	RawStatus         string
	ApprovalURL       string
	Metadata          map[string]string
}

// PaymentProvider is the capability set every payment adapter implements.
type PaymentProvider interface {
	Name() string
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentResult, error)
	VerifyPayment(ctx context.Context, providerPaymentID string) (*PaymentResult, error)
	RefundPayment(ctx context.Context, providerPaymentID string, amount money.Money, reason string) (*PaymentResult, error)
	ValidateWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*domain.WebhookEvent, error)
}

// CreateShipmentRequest is the provider-facing shipment creation request.
type CreateShipmentRequest struct {
	Reference     string
	OrderID       string
	Recipient     domain.Customer
	Items         []domain.LineItem
	Origin        domain.Address
	Destination   domain.Address
	Method        string
	WeightGrams   int64
	Dimensions    domain.Dimensions
	DeclaredValue money.Money
}

// ShipmentResult is the normalized outcome of a shipment operation.
type ShipmentResult struct {
	ProviderShipmentID string
	TrackingNumber     string
	Status             domain.ShipmentStatus
	RawStatus          string
	Cost               money.Money
	EstimatedDelivery  *time.Time
}

// ShipmentUpdate is one tracking event from a shipping provider.
type ShipmentUpdate struct {
	Status      domain.ShipmentStatus
	RawStatus   string
	Location    string
	Description string
	At          time.Time
}

// ShippingProvider is the capability set every shipping adapter implements.
type ShippingProvider interface {
	Name() string
	CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*ShipmentResult, error)
	TrackShipment(ctx context.Context, trackingNumber string) ([]ShipmentUpdate, error)
	CancelShipment(ctx context.Context, providerShipmentID, reason string) (bool, error)
	ValidateWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*domain.WebhookEvent, error)
}
