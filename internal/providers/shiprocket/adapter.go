// Package shiprocket adapts the Shiprocket external API to the uniform
// shipping capability interface. Serves the IN region. Shiprocket
// authenticates with a short-lived bearer token exchanged for API
// credentials.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/metrics"
	"commercegate/internal/common/money"
	"commercegate/internal/credentials"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
)

const Name = "shiprocket"

// tokenTTL is how long a login token is reused before re-authenticating.
// Shiprocket tokens last ten days; refreshing daily keeps a safety margin.
const tokenTTL = 24 * time.Hour

// Config holds adapter configuration.
type Config struct {
	BaseURL     string
	Credentials credentials.ProviderCredentials
}

// shipmentStatuses maps Shiprocket status strings onto the canonical enum.
// Matching is case-insensitive. Unknown statuses fall back to pending.
var shipmentStatuses = map[string]domain.ShipmentStatus{
	"new":                domain.ShipmentPending,
	"ready to ship":      domain.ShipmentPacked,
	"pickup scheduled":   domain.ShipmentPacked,
	"pickup rescheduled": domain.ShipmentPacked,
	"picked up":          domain.ShipmentInTransit,
	"shipped":            domain.ShipmentInTransit,
	"in transit":         domain.ShipmentInTransit,
	"out for delivery":   domain.ShipmentOutForDelivery,
	"delivered":          domain.ShipmentDelivered,
	"undelivered":        domain.ShipmentFailed,
	"lost":               domain.ShipmentFailed,
	"damaged":            domain.ShipmentFailed,
	"rto initiated":      domain.ShipmentReturned,
	"rto in transit":     domain.ShipmentReturned,
	"rto delivered":      domain.ShipmentReturned,
	"cancelled":          domain.ShipmentCancelled,
}

// Adapter implements providers.ShippingProvider for Shiprocket.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// mu guards the token fields only and is never held across a network
	// call. refreshMu serializes logins so a cold cache triggers one.
	mu          sync.Mutex
	refreshMu   sync.Mutex
	token       string
	tokenIssued time.Time
}

// New creates a Shiprocket adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://apiv2.shiprocket.in"
	}
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Credentials.Timeout,
		},
		logger: logger,
	}
}

// Name implements providers.ShippingProvider.
func (a *Adapter) Name() string { return Name }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// authToken returns a cached login token, re-authenticating when stale.
// Callers holding a fresh token never wait on an in-flight login.
func (a *Adapter) authToken(ctx context.Context) (string, error) {
	if token, ok := a.cachedToken(); ok {
		return token, nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	if token, ok := a.cachedToken(); ok {
		return token, nil
	}

	token, err := a.login(ctx)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.token = token
	a.tokenIssued = time.Now()
	a.mu.Unlock()
	return token, nil
}

func (a *Adapter) cachedToken() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Since(a.tokenIssued) < tokenTTL {
		return a.token, true
	}
	return "", false
}

// login exchanges the API credentials for a bearer token.
func (a *Adapter) login(ctx context.Context) (string, error) {
	body := loginRequest{
		Email:    a.config.Credentials.KeyID,
		Password: a.config.Credentials.KeySecret,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/external/auth/login", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", providers.ClassifyTransportError(Name, "auth", a.config.Credentials.Timeout, err)
	}

	var login loginResponse
	if err := providers.DecodeResponse(Name, "auth", resp, &login); err != nil {
		return "", err
	}
	if login.Token == "" {
		return "", &apperror.ProviderError{
			Provider: Name,
			Code:     "AUTH_FAILED",
			Message:  "shiprocket login returned no token",
		}
	}
	return login.Token, nil
}

type createOrderRequest struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	BillingName       string      `json:"billing_customer_name"`
	BillingAddr       string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingPin        string      `json:"billing_pincode"`
	BillingState      string      `json:"billing_state"`
	BillingCountry    string      `json:"billing_country"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	OrderItems        []orderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          string      `json:"sub_total"`
	Length            float64     `json:"length"`
	Breadth           float64     `json:"breadth"`
	Height            float64     `json:"height"`
	Weight            float64     `json:"weight"`
}

type orderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type createOrderResponse struct {
	OrderID    json.Number `json:"order_id"`
	ShipmentID json.Number `json:"shipment_id"`
	Status     string      `json:"status"`
	AWBCode    string      `json:"awb_code"`
}

// CreateShipment registers an adhoc order with Shiprocket. The returned
// shipment ID is the provider shipment ID; the AWB (tracking number) may be
// assigned later via webhook.
func (a *Adapter) CreateShipment(ctx context.Context, req *providers.CreateShipmentRequest) (*providers.ShipmentResult, error) {
	token, err := a.authToken(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]orderItem, 0, len(req.Items))
	for _, it := range req.Items {
		unit := money.Money{AmountMinor: it.UnitMinor, Currency: req.DeclaredValue.Currency}
		items = append(items, orderItem{
			Name:         it.Name,
			SKU:          it.SKU,
			Units:        it.Quantity,
			SellingPrice: unit.MajorString(),
		})
	}

	body := createOrderRequest{
		OrderID:           req.Reference,
		OrderDate:         time.Now().UTC().Format("2006-01-02 15:04"),
		BillingName:       req.Recipient.Name,
		BillingAddr:       req.Destination.Line1,
		BillingCity:       req.Destination.City,
		BillingPin:        req.Destination.PostalCode,
		BillingState:      req.Destination.State,
		BillingCountry:    req.Destination.Country,
		ShippingIsBilling: true,
		OrderItems:        items,
		PaymentMethod:     "Prepaid",
		SubTotal:          req.DeclaredValue.MajorString(),
		Length:            req.Dimensions.LengthCm,
		Breadth:           req.Dimensions.WidthCm,
		Height:            req.Dimensions.HeightCm,
		Weight:            float64(req.WeightGrams) / 1000,
	}

	var created createOrderResponse
	if err := a.do(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", "create_shipment", token, body, &created); err != nil {
		return nil, err
	}

	a.logger.Info("shiprocket order created",
		"reference", req.Reference,
		"shiprocket_shipment_id", created.ShipmentID.String(),
		"status", created.Status,
	)

	return &providers.ShipmentResult{
		ProviderShipmentID: created.ShipmentID.String(),
		TrackingNumber:     created.AWBCode,
		Status:             a.mapStatus(created.Status),
		RawStatus:          created.Status,
	}, nil
}

type trackActivity struct {
	Date     string `json:"date"`
	Status   string `json:"sr-status-label"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

type trackResponse struct {
	TrackingData struct {
		ShipmentTrack []struct {
			AWBCode       string `json:"awb_code"`
			CurrentStatus string `json:"current_status"`
			EDD           string `json:"edd"`
		} `json:"shipment_track"`
		ShipmentTrackActivities []trackActivity `json:"shipment_track_activities"`
	} `json:"tracking_data"`
}

// TrackShipment fetches tracking activities for an AWB, newest first as
// Shiprocket returns them. The fetch is safe to retry; timeouts are retried
// within the configured attempt budget.
func (a *Adapter) TrackShipment(ctx context.Context, trackingNumber string) ([]providers.ShipmentUpdate, error) {
	token, err := a.authToken(ctx)
	if err != nil {
		return nil, err
	}

	var tracked trackResponse
	path := "/v1/external/courier/track/awb/" + trackingNumber
	op := func() error {
		err := a.do(ctx, http.MethodGet, path, "track_shipment", token, nil, &tracked)
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

	updates := make([]providers.ShipmentUpdate, 0, len(tracked.TrackingData.ShipmentTrackActivities))
	for _, act := range tracked.TrackingData.ShipmentTrackActivities {
		at, _ := time.Parse("2006-01-02 15:04:05", act.Date)
		updates = append(updates, providers.ShipmentUpdate{
			Status:      a.mapStatus(act.Status),
			RawStatus:   act.Status,
			Location:    act.Location,
			Description: act.Activity,
			At:          at,
		})
	}
	return updates, nil
}

type cancelRequest struct {
	IDs []string `json:"ids"`
}

type cancelResponse struct {
	Message string `json:"message"`
}

// CancelShipment cancels a Shiprocket order before pickup. Returns false
// without error when the provider reports the shipment is already moving.
func (a *Adapter) CancelShipment(ctx context.Context, providerShipmentID, reason string) (bool, error) {
	token, err := a.authToken(ctx)
	if err != nil {
		return false, err
	}

	body := cancelRequest{IDs: []string{providerShipmentID}}
	var cancelled cancelResponse
	err = a.do(ctx, http.MethodPost, "/v1/external/orders/cancel", "cancel_shipment", token, body, &cancelled)
	if err != nil {
		var provErr *apperror.ProviderError
		if errors.As(err, &provErr) && strings.Contains(strings.ToLower(provErr.Message), "cannot be cancel") {
			a.logger.Warn("shiprocket refused cancellation",
				"shiprocket_shipment_id", providerShipmentID,
				"message", provErr.Message,
			)
			return false, nil
		}
		return false, err
	}

	a.logger.Info("shiprocket order cancelled",
		"shiprocket_shipment_id", providerShipmentID,
		"reason", reason,
	)
	return true, nil
}

// ValidateWebhook checks the X-Shiprocket-Signature HMAC over the raw body.
func (a *Adapter) ValidateWebhook(payload []byte, signature string) bool {
	return providers.ValidateHMAC(payload, signature, a.config.Credentials.WebhookSecret)
}

type webhookBody struct {
	AWB           json.Number `json:"awb"`
	CurrentStatus string      `json:"current_status"`
	OrderID       string      `json:"order_id"`
	ShipmentID    json.Number `json:"sr_shipment_id"`
	ScanLocation  string      `json:"scan_location"`
	Timestamp     string      `json:"current_timestamp"`
}

// ParseWebhook translates a Shiprocket tracking webhook into the canonical
// event.
func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperror.Validationf("payload", "malformed shiprocket webhook body: %v", err)
	}
	if body.AWB.String() == "" && body.ShipmentID.String() == "" {
		return nil, apperror.Validation("awb", "shiprocket webhook carries no shipment reference")
	}

	status := a.mapStatus(body.CurrentStatus)
	ref := body.AWB.String()
	if ref == "" {
		ref = body.ShipmentID.String()
	}

	return &domain.WebhookEvent{
		ID:             fmt.Sprintf("%s:%s:%s", Name, strings.ToLower(body.CurrentStatus), ref),
		Provider:       Name,
		Type:           domain.WebhookShipmentUpdate,
		TrackingNumber: body.AWB.String(),
		ShipmentStatus: status,
		RawPayload:     payload,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}

func (a *Adapter) mapStatus(raw string) domain.ShipmentStatus {
	status, ok := shipmentStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		a.logger.Warn("unmapped shiprocket status", "status", raw)
		metrics.UnmappedProviderStatuses.WithLabelValues(Name).Inc()
		return domain.ShipmentPending
	}
	return status
}

// do performs a token-authenticated round-trip and decodes the response.
func (a *Adapter) do(ctx context.Context, method, path, op, token string, body, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+token)
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
