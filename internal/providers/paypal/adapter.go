// Package paypal adapts the PayPal Orders v2 API (via the plutov/paypal
// SDK) to the uniform payment capability interface. Serves the US, GB and
// DE regions.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paypalsdk "github.com/plutov/paypal/v4"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/metrics"
	"commercegate/internal/common/money"
	"commercegate/internal/credentials"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
)

const Name = "paypal"

// Config holds adapter configuration. BaseURL overrides the SDK API base,
// which tests point at an httptest server.
type Config struct {
	BaseURL     string
	Mode        credentials.Mode
	Credentials credentials.ProviderCredentials
	ReturnURL   string
	CancelURL   string
}

// orderStatuses maps PayPal order statuses onto the canonical enum.
// Unknown statuses fall back to pending.
var orderStatuses = map[string]domain.PaymentStatus{
	"CREATED":               domain.PaymentPending,
	"SAVED":                 domain.PaymentPending,
	"PAYER_ACTION_REQUIRED": domain.PaymentPending,
	"APPROVED":              domain.PaymentProcessing,
	"COMPLETED":             domain.PaymentCompleted,
	"VOIDED":                domain.PaymentCancelled,
}

// webhookEvents maps PayPal webhook event types onto canonical types.
var webhookEvents = map[string]domain.WebhookEventType{
	"CHECKOUT.ORDER.APPROVED":   domain.WebhookPaymentAuthorized,
	"PAYMENT.CAPTURE.COMPLETED": domain.WebhookPaymentCompleted,
	"PAYMENT.CAPTURE.DENIED":    domain.WebhookPaymentFailed,
	"PAYMENT.CAPTURE.DECLINED":  domain.WebhookPaymentFailed,
	"PAYMENT.CAPTURE.REFUNDED":  domain.WebhookPaymentRefunded,
	"CHECKOUT.ORDER.VOIDED":     domain.WebhookPaymentCancelled,
}

// Adapter implements providers.PaymentProvider for PayPal.
type Adapter struct {
	config Config
	client *paypalsdk.Client
	logger *slog.Logger
}

// New creates a PayPal adapter. The SDK fetches and caches OAuth tokens
// internally.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	base := cfg.BaseURL
	if base == "" {
		base = paypalsdk.APIBaseSandBox
		if cfg.Mode == credentials.ModeLive {
			base = paypalsdk.APIBaseLive
		}
	}

	client, err := paypalsdk.NewClient(cfg.Credentials.KeyID, cfg.Credentials.KeySecret, base)
	if err != nil {
		return nil, fmt.Errorf("creating paypal client: %w", err)
	}
	client.Client.Timeout = cfg.Credentials.Timeout

	return &Adapter{config: cfg, client: client, logger: logger}, nil
}

// Name implements providers.PaymentProvider.
func (a *Adapter) Name() string { return Name }

// CreatePayment creates a CAPTURE-intent order. The customer is redirected
// to the returned approval URL; capture happens on verify once the order
// is approved.
func (a *Adapter) CreatePayment(ctx context.Context, req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
	units := []paypalsdk.PurchaseUnitRequest{
		{
			ReferenceID: req.Reference,
			CustomID:    req.OrderID,
			Amount: &paypalsdk.PurchaseUnitAmount{
				Currency: string(req.Amount.Currency),
				Value:    req.Amount.MajorString(),
			},
		},
	}
	appCtx := &paypalsdk.ApplicationContext{
		ReturnURL: a.config.ReturnURL,
		CancelURL: a.config.CancelURL,
	}

	start := time.Now()
	order, err := a.client.CreateOrder(ctx, paypalsdk.OrderIntentCapture, units, nil, appCtx)
	metrics.ObserveProviderCall("create_payment", Name, "", start)
	if err != nil {
		return nil, a.classify("create_payment", err)
	}

	a.logger.Info("paypal order created",
		"reference", req.Reference,
		"paypal_order_id", order.ID,
		"status", order.Status,
	)

	return &providers.PaymentResult{
		ProviderPaymentID: order.ID,
		Status:            a.mapOrderStatus(order.Status),
		RawStatus:         order.Status,
		ApprovalURL:       approvalURL(order),
	}, nil
}

// VerifyPayment fetches the order and, if the payer has approved it,
// captures the funds. Capturing an already-captured order is surfaced by
// PayPal as ORDER_ALREADY_CAPTURED; a follow-up fetch resolves it to the
// settled status.
func (a *Adapter) VerifyPayment(ctx context.Context, providerPaymentID string) (*providers.PaymentResult, error) {
	start := time.Now()
	order, err := a.client.GetOrder(ctx, providerPaymentID)
	metrics.ObserveProviderCall("verify_payment", Name, "", start)
	if err != nil {
		return nil, a.classify("verify_payment", err)
	}

	if order.Status == "APPROVED" {
		capture, err := a.client.CaptureOrder(ctx, providerPaymentID, paypalsdk.CaptureOrderRequest{})
		if err != nil {
			// A concurrent capture (a webhook, a double-submitted confirm)
			// may have settled the order first; the re-fetch reports the
			// settled status.
			if isAlreadyCaptured(err) {
				settled, getErr := a.client.GetOrder(ctx, providerPaymentID)
				if getErr != nil {
					return nil, a.classify("verify_payment", getErr)
				}
				return &providers.PaymentResult{
					ProviderPaymentID: settled.ID,
					Status:            a.mapOrderStatus(settled.Status),
					RawStatus:         settled.Status,
				}, nil
			}
			return nil, a.classify("verify_payment", err)
		}
		a.logger.Info("paypal order captured",
			"paypal_order_id", providerPaymentID,
			"capture_status", capture.Status,
		)
		return &providers.PaymentResult{
			ProviderPaymentID: providerPaymentID,
			Status:            a.mapOrderStatus(capture.Status),
			RawStatus:         capture.Status,
			Metadata:          captureMetadata(capture.PurchaseUnits),
		}, nil
	}

	return &providers.PaymentResult{
		ProviderPaymentID: order.ID,
		Status:            a.mapOrderStatus(order.Status),
		RawStatus:         order.Status,
		ApprovalURL:       approvalURL(order),
	}, nil
}

// RefundPayment refunds the capture behind a completed order. The capture
// ID is read from the order's purchase units.
func (a *Adapter) RefundPayment(ctx context.Context, providerPaymentID string, amount money.Money, reason string) (*providers.PaymentResult, error) {
	order, err := a.client.GetOrder(ctx, providerPaymentID)
	if err != nil {
		return nil, a.classify("refund_payment", err)
	}

	captureID := ""
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			captureID = capture.ID
			break
		}
	}
	if captureID == "" {
		return nil, &apperror.ProviderError{
			Provider: Name,
			Code:     "NO_CAPTURE",
			Message:  fmt.Sprintf("order %s has no capture to refund", providerPaymentID),
		}
	}

	start := time.Now()
	refund, err := a.client.RefundCapture(ctx, captureID, paypalsdk.RefundCaptureRequest{
		Amount: &paypalsdk.Money{
			Currency: string(amount.Currency),
			Value:    amount.MajorString(),
		},
		NoteToPayer: reason,
	})
	metrics.ObserveProviderCall("refund_payment", Name, "", start)
	if err != nil {
		return nil, a.classify("refund_payment", err)
	}

	a.logger.Info("paypal refund issued",
		"paypal_order_id", providerPaymentID,
		"capture_id", captureID,
		"refund_id", refund.ID,
		"refund_status", refund.Status,
	)

	return &providers.PaymentResult{
		ProviderPaymentID: providerPaymentID,
		Status:            domain.PaymentRefunded,
		RawStatus:         refund.Status,
		Metadata: map[string]string{
			"refund_id":  refund.ID,
			"capture_id": captureID,
		},
	}, nil
}

// ValidateWebhook checks the X-Paypal-Signature HMAC over the raw body.
func (a *Adapter) ValidateWebhook(payload []byte, signature string) bool {
	return providers.ValidateHMAC(payload, signature, a.config.Credentials.WebhookSecret)
}

type webhookBody struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParseWebhook translates a PayPal webhook body into the canonical event.
// Capture events reference the order through supplementary data; order
// events carry the order ID as the resource itself.
func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperror.Validationf("payload", "malformed paypal webhook body: %v", err)
	}
	if body.EventType == "" {
		return nil, apperror.Validation("event_type", "paypal webhook missing event type")
	}

	orderID := body.Resource.SupplementaryData.RelatedIDs.OrderID
	if orderID == "" {
		orderID = body.Resource.ID
	}
	if orderID == "" {
		return nil, apperror.Validation("resource", "paypal webhook carries no order reference")
	}

	eventType, ok := webhookEvents[body.EventType]
	if !ok {
		a.logger.Warn("unmapped paypal webhook event",
			"event_type", body.EventType,
			"paypal_order_id", orderID,
		)
		metrics.UnmappedProviderStatuses.WithLabelValues(Name).Inc()
		eventType = domain.WebhookPaymentPending
	}

	// PayPal assigns stable webhook IDs; dedup keys on those so two
	// distinct events of the same type never collide. Synthesize only
	// when the body carries none.
	id := body.ID
	if id == "" {
		id = fmt.Sprintf("%s:%s:%s", Name, body.EventType, orderID)
	}

	evt := &domain.WebhookEvent{
		ID:                id,
		Provider:          Name,
		Type:              eventType,
		ProviderPaymentID: orderID,
		RawPayload:        payload,
		ReceivedAt:        time.Now().UTC(),
	}
	if eventType == domain.WebhookPaymentFailed {
		evt.ErrorCode = body.Resource.Status
		evt.ErrorMessage = fmt.Sprintf("paypal capture %s", body.Resource.Status)
	}
	return evt, nil
}

func (a *Adapter) mapOrderStatus(raw string) domain.PaymentStatus {
	status, ok := orderStatuses[raw]
	if !ok {
		a.logger.Warn("unmapped paypal order status", "status", raw)
		metrics.UnmappedProviderStatuses.WithLabelValues(Name).Inc()
		return domain.PaymentPending
	}
	return status
}

// classify converts SDK errors into the shared taxonomy. The SDK surfaces
// API errors as *paypal.ErrorResponse; everything else is transport.
func (a *Adapter) classify(op string, err error) error {
	var apiErr *paypalsdk.ErrorResponse
	if errors.As(err, &apiErr) {
		return &apperror.ProviderError{
			Provider: Name,
			Code:     apiErr.Name,
			Message:  apiErr.Message,
		}
	}
	return providers.ClassifyTransportError(Name, op, a.config.Credentials.Timeout, err)
}

// isAlreadyCaptured reports whether a capture failed because the order was
// already captured.
func isAlreadyCaptured(err error) bool {
	var apiErr *paypalsdk.ErrorResponse
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, detail := range apiErr.Details {
		if detail.Issue == "ORDER_ALREADY_CAPTURED" {
			return true
		}
	}
	return false
}

func approvalURL(order *paypalsdk.Order) string {
	for _, link := range order.Links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}

func captureMetadata(units []paypalsdk.CapturedPurchaseUnit) map[string]string {
	for _, unit := range units {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			return map[string]string{"capture_id": capture.ID}
		}
	}
	return nil
}
