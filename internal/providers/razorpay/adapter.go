// Package razorpay adapts the Razorpay Orders and Payments REST API
// (basic auth) to the uniform payment capability interface. Serves the IN
// region.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/metrics"
	"commercegate/internal/common/money"
	"commercegate/internal/credentials"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
)

const Name = "razorpay"

// Config holds adapter configuration.
type Config struct {
	BaseURL     string
	Credentials credentials.ProviderCredentials
}

// orderStatuses maps Razorpay order statuses onto the canonical enum.
// Anything absent falls back to pending; an unrecognized provider status
// must never silently mark a payment complete.
var orderStatuses = map[string]domain.PaymentStatus{
	"created":   domain.PaymentPending,
	"attempted": domain.PaymentProcessing,
	"paid":      domain.PaymentCompleted,
}

// paymentStatuses maps Razorpay payment entity statuses.
var paymentStatuses = map[string]domain.PaymentStatus{
	"created":    domain.PaymentPending,
	"authorized": domain.PaymentProcessing,
	"captured":   domain.PaymentCompleted,
	"refunded":   domain.PaymentRefunded,
	"failed":     domain.PaymentFailed,
}

// webhookEvents maps Razorpay webhook event names onto canonical types.
var webhookEvents = map[string]domain.WebhookEventType{
	"payment.authorized": domain.WebhookPaymentAuthorized,
	"payment.captured":   domain.WebhookPaymentCompleted,
	"payment.failed":     domain.WebhookPaymentFailed,
	"order.paid":         domain.WebhookPaymentCompleted,
	"refund.processed":   domain.WebhookPaymentRefunded,
}

// Adapter implements providers.PaymentProvider for Razorpay.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Razorpay adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Credentials.Timeout,
		},
		logger: logger,
	}
}

// Name implements providers.PaymentProvider.
func (a *Adapter) Name() string { return Name }

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// CreatePayment creates a Razorpay order. The order ID becomes the provider
// payment ID; the customer completes payment against it client-side.
func (a *Adapter) CreatePayment(ctx context.Context, req *providers.CreatePaymentRequest) (*providers.PaymentResult, error) {
	notes := map[string]string{
		"reference": req.Reference,
		"order_id":  req.OrderID,
	}
	for k, v := range req.Metadata {
		notes[k] = v
	}

	body := createOrderRequest{
		Amount:   req.Amount.AmountMinor,
		Currency: string(req.Amount.Currency),
		Receipt:  req.Reference,
		Notes:    notes,
	}

	var order orderResponse
	if err := a.do(ctx, http.MethodPost, "/v1/orders", "create_payment", body, &order); err != nil {
		return nil, err
	}

	a.logger.Info("razorpay order created",
		"reference", req.Reference,
		"razorpay_order_id", order.ID,
		"amount", order.Amount,
	)

	return &providers.PaymentResult{
		ProviderPaymentID: order.ID,
		Status:            a.mapOrderStatus(order.Status),
		RawStatus:         order.Status,
	}, nil
}

// VerifyPayment re-fetches the order. Safe to retry; fetches are bounded by
// the configured attempt budget with a fixed delay between attempts.
func (a *Adapter) VerifyPayment(ctx context.Context, providerPaymentID string) (*providers.PaymentResult, error) {
	var order orderResponse

	op := func() error {
		err := a.do(ctx, http.MethodGet, "/v1/orders/"+providerPaymentID, "verify_payment", nil, &order)
		if err != nil && !apperror.IsTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(a.config.Credentials.RetryDelay),
		uint64(a.config.Credentials.RetryAttempts),
	)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	return &providers.PaymentResult{
		ProviderPaymentID: order.ID,
		Status:            a.mapOrderStatus(order.Status),
		RawStatus:         order.Status,
	}, nil
}

type paymentListResponse struct {
	Count int             `json:"count"`
	Items []paymentEntity `json:"items"`
}

type refundRequest struct {
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type refundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// RefundPayment locates the captured payment under the order and issues a
// refund against it. Razorpay refunds target the payment entity, not the
// order.
func (a *Adapter) RefundPayment(ctx context.Context, providerPaymentID string, amount money.Money, reason string) (*providers.PaymentResult, error) {
	var list paymentListResponse
	if err := a.do(ctx, http.MethodGet, "/v1/orders/"+providerPaymentID+"/payments", "refund_payment", nil, &list); err != nil {
		return nil, err
	}

	var captured *paymentEntity
	for i := range list.Items {
		if list.Items[i].Status == "captured" {
			captured = &list.Items[i]
			break
		}
	}
	if captured == nil {
		return nil, &apperror.ProviderError{
			Provider: Name,
			Code:     "NO_CAPTURED_PAYMENT",
			Message:  fmt.Sprintf("order %s has no captured payment to refund", providerPaymentID),
		}
	}

	body := refundRequest{
		Amount: amount.AmountMinor,
		Notes:  map[string]string{"reason": reason},
	}
	var refund refundResponse
	if err := a.do(ctx, http.MethodPost, "/v1/payments/"+captured.ID+"/refund", "refund_payment", body, &refund); err != nil {
		return nil, err
	}

	a.logger.Info("razorpay refund issued",
		"razorpay_order_id", providerPaymentID,
		"razorpay_payment_id", captured.ID,
		"razorpay_refund_id", refund.ID,
		"amount", refund.Amount,
	)

	return &providers.PaymentResult{
		ProviderPaymentID: providerPaymentID,
		Status:            domain.PaymentRefunded,
		RawStatus:         refund.Status,
		Metadata: map[string]string{
			"refund_id":  refund.ID,
			"payment_id": captured.ID,
		},
	}, nil
}

// ValidateWebhook checks the X-Razorpay-Signature HMAC over the raw body.
func (a *Adapter) ValidateWebhook(payload []byte, signature string) bool {
	return providers.ValidateHMAC(payload, signature, a.config.Credentials.WebhookSecret)
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity orderResponse `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseWebhook translates a Razorpay webhook body into the canonical event.
// Unrecognized event names degrade to the pending type rather than failing;
// the caller treats pending as a no-op against any non-pending record.
func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperror.Validationf("payload", "malformed razorpay webhook body: %v", err)
	}
	if body.Event == "" {
		return nil, apperror.Validation("event", "razorpay webhook missing event name")
	}

	// Payments reference their order; the order ID is our provider payment
	// ID. order.paid events carry the order entity directly.
	orderID := body.Payload.Payment.Entity.OrderID
	if orderID == "" {
		orderID = body.Payload.Order.Entity.ID
	}
	if orderID == "" {
		return nil, apperror.Validation("payload", "razorpay webhook carries no order reference")
	}

	eventType, ok := webhookEvents[body.Event]
	if !ok {
		a.logger.Warn("unmapped razorpay webhook event",
			"event", body.Event,
			"razorpay_order_id", orderID,
		)
		metrics.UnmappedProviderStatuses.WithLabelValues(Name).Inc()
		eventType = domain.WebhookPaymentPending
	}

	evt := &domain.WebhookEvent{
		ID:                fmt.Sprintf("%s:%s:%s", Name, body.Event, orderID),
		Provider:          Name,
		Type:              eventType,
		ProviderPaymentID: orderID,
		RawPayload:        payload,
		ReceivedAt:        time.Now().UTC(),
	}
	if eventType == domain.WebhookPaymentFailed {
		evt.ErrorCode = body.Payload.Payment.Entity.ErrorCode
		evt.ErrorMessage = body.Payload.Payment.Entity.ErrorDescription
	}
	return evt, nil
}

func (a *Adapter) mapOrderStatus(raw string) domain.PaymentStatus {
	status, ok := orderStatuses[raw]
	if !ok {
		a.logger.Warn("unmapped razorpay order status", "status", raw)
		metrics.UnmappedProviderStatuses.WithLabelValues(Name).Inc()
		return domain.PaymentPending
	}
	return status
}

// do performs an authenticated round-trip and decodes the response.
func (a *Adapter) do(ctx context.Context, method, path, op string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.SetBasicAuth(a.config.Credentials.KeyID, a.config.Credentials.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	metrics.ObserveProviderCall(op, Name, "", start)
	if err != nil {
		return providers.ClassifyTransportError(Name, op, a.config.Credentials.Timeout, err)
	}
	return providers.DecodeResponse(Name, op, resp, out)
}
