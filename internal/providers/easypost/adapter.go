// Package easypost adapts the EasyPost shipments API to the uniform
// shipping capability interface. Serves the US, GB and DE regions.
package easypost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/metrics"
	"commercegate/internal/common/money"
	"commercegate/internal/credentials"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
)

const Name = "easypost"

// Config holds adapter configuration.
type Config struct {
	BaseURL     string
	Credentials credentials.ProviderCredentials
}

// trackerStatuses maps EasyPost tracker statuses onto the canonical enum.
// Unknown statuses fall back to pending.
var trackerStatuses = map[string]domain.ShipmentStatus{
	"unknown":              domain.ShipmentPending,
	"pre_transit":          domain.ShipmentPacked,
	"in_transit":           domain.ShipmentInTransit,
	"out_for_delivery":     domain.ShipmentOutForDelivery,
	"available_for_pickup": domain.ShipmentOutForDelivery,
	"delivered":            domain.ShipmentDelivered,
	"return_to_sender":     domain.ShipmentReturned,
	"failure":              domain.ShipmentFailed,
	"error":                domain.ShipmentFailed,
	"cancelled":            domain.ShipmentCancelled,
}

// Adapter implements providers.ShippingProvider for EasyPost.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an EasyPost adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.easypost.com"
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

type addressPayload struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type parcelPayload struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

type createShipmentRequest struct {
	Shipment struct {
		Reference   string         `json:"reference"`
		ToAddress   addressPayload `json:"to_address"`
		FromAddress addressPayload `json:"from_address"`
		Parcel      parcelPayload  `json:"parcel"`
		Service     string         `json:"service,omitempty"`
	} `json:"shipment"`
}

type shipmentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	TrackingCode string `json:"tracking_code"`
	Reference    string `json:"reference"`
	SelectedRate *rate  `json:"selected_rate"`
	Rates        []rate `json:"rates"`
}

type rate struct {
	ID           string `json:"id"`
	Service      string `json:"service"`
	Rate         string `json:"rate"`
	Currency     string `json:"currency"`
	DeliveryDays int    `json:"delivery_days"`
}

// CreateShipment creates an EasyPost shipment and buys the cheapest rate
// matching the requested service, or the cheapest overall when no service
// is named.
func (a *Adapter) CreateShipment(ctx context.Context, req *providers.CreateShipmentRequest) (*providers.ShipmentResult, error) {
	var body createShipmentRequest
	body.Shipment.Reference = req.Reference
	body.Shipment.ToAddress = toAddressPayload(req.Destination, req.Recipient)
	body.Shipment.FromAddress = toAddressPayload(req.Origin, domain.Customer{})
	body.Shipment.Parcel = parcelPayload{
		Length: req.Dimensions.LengthCm,
		Width:  req.Dimensions.WidthCm,
		Height: req.Dimensions.HeightCm,
		Weight: float64(req.WeightGrams) * 0.035274, // grams to ounces
	}
	body.Shipment.Service = req.Method

	var created shipmentResponse
	if err := a.do(ctx, http.MethodPost, "/v2/shipments", "create_shipment", body, &created); err != nil {
		return nil, err
	}

	chosen := pickRate(created.Rates, req.Method)
	if chosen != nil {
		buyBody := map[string]any{"rate": map[string]string{"id": chosen.ID}}
		var bought shipmentResponse
		if err := a.do(ctx, http.MethodPost, "/v2/shipments/"+created.ID+"/buy", "create_shipment", buyBody, &bought); err != nil {
			return nil, err
		}
		created = bought
	}

	a.logger.Info("easypost shipment created",
		"reference", req.Reference,
		"easypost_shipment_id", created.ID,
		"tracking_code", created.TrackingCode,
	)

	result := &providers.ShipmentResult{
		ProviderShipmentID: created.ID,
		TrackingNumber:     created.TrackingCode,
		Status:             domain.ShipmentPacked,
		RawStatus:          created.Status,
	}
	if created.SelectedRate != nil {
		if cost, err := money.ParseDecimal(created.SelectedRate.Rate, money.Currency(created.SelectedRate.Currency)); err == nil {
			result.Cost = cost
		}
		if created.SelectedRate.DeliveryDays > 0 {
			eta := time.Now().UTC().AddDate(0, 0, created.SelectedRate.DeliveryDays)
			result.EstimatedDelivery = &eta
		}
	}
	return result, nil
}

type trackerResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	TrackingCode    string `json:"tracking_code"`
	TrackingDetails []struct {
		Status           string `json:"status"`
		Message          string `json:"message"`
		Datetime         string `json:"datetime"`
		TrackingLocation struct {
			City    string `json:"city"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"tracking_location"`
	} `json:"tracking_details"`
}

// TrackShipment fetches tracker details for a tracking code. EasyPost
// returns a list; the newest tracker wins. The fetch is safe to retry;
// timeouts are retried within the configured attempt budget.
func (a *Adapter) TrackShipment(ctx context.Context, trackingNumber string) ([]providers.ShipmentUpdate, error) {
	var list struct {
		Trackers []trackerResponse `json:"trackers"`
	}
	path := "/v2/trackers?tracking_code=" + trackingNumber
	op := func() error {
		err := a.do(ctx, http.MethodGet, path, "track_shipment", nil, &list)
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
	if len(list.Trackers) == 0 {
		return nil, nil
	}
	tracked := list.Trackers[0]

	updates := make([]providers.ShipmentUpdate, 0, len(tracked.TrackingDetails))
	for _, detail := range tracked.TrackingDetails {
		at, _ := time.Parse(time.RFC3339, detail.Datetime)
		loc := detail.TrackingLocation.City
		if detail.TrackingLocation.State != "" {
			loc += ", " + detail.TrackingLocation.State
		}
		updates = append(updates, providers.ShipmentUpdate{
			Status:      a.mapStatus(detail.Status),
			RawStatus:   detail.Status,
			Location:    loc,
			Description: detail.Message,
			At:          at,
		})
	}
	return updates, nil
}

type refundResponse struct {
	ID           string `json:"id"`
	RefundStatus string `json:"refund_status"`
}

// CancelShipment requests a postage refund, which voids the label. Returns
// false without error when EasyPost reports the refund as not applicable.
func (a *Adapter) CancelShipment(ctx context.Context, providerShipmentID, reason string) (bool, error) {
	var refunded refundResponse
	err := a.do(ctx, http.MethodPost, "/v2/shipments/"+providerShipmentID+"/refund", "cancel_shipment", nil, &refunded)
	if err != nil {
		if apperror.IsProvider(err) {
			a.logger.Warn("easypost refused cancellation",
				"easypost_shipment_id", providerShipmentID,
				"error", err,
			)
			return false, nil
		}
		return false, err
	}

	a.logger.Info("easypost shipment cancelled",
		"easypost_shipment_id", providerShipmentID,
		"refund_status", refunded.RefundStatus,
		"reason", reason,
	)
	return true, nil
}

// ValidateWebhook checks the X-Easypost-Signature HMAC over the raw body.
func (a *Adapter) ValidateWebhook(payload []byte, signature string) bool {
	return providers.ValidateHMAC(payload, signature, a.config.Credentials.WebhookSecret)
}

type webhookBody struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Result      struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		TrackingCode string `json:"tracking_code"`
		StatusDetail string `json:"status_detail"`
	} `json:"result"`
}

// ParseWebhook translates an EasyPost tracker event into the canonical
// event. EasyPost assigns stable event IDs, so dedup keys on those plus the
// tracker status.
func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperror.Validationf("payload", "malformed easypost webhook body: %v", err)
	}
	if body.Result.TrackingCode == "" {
		return nil, apperror.Validation("result", "easypost webhook carries no tracking code")
	}

	id := body.ID
	if id == "" {
		id = fmt.Sprintf("%s:%s:%s", Name, body.Result.Status, body.Result.TrackingCode)
	}

	return &domain.WebhookEvent{
		ID:             id,
		Provider:       Name,
		Type:           domain.WebhookShipmentUpdate,
		TrackingNumber: body.Result.TrackingCode,
		ShipmentStatus: a.mapStatus(body.Result.Status),
		RawPayload:     payload,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}

func (a *Adapter) mapStatus(raw string) domain.ShipmentStatus {
	status, ok := trackerStatuses[raw]
	if !ok {
		a.logger.Warn("unmapped easypost status", "status", raw)
		metrics.UnmappedProviderStatuses.WithLabelValues(Name).Inc()
		return domain.ShipmentPending
	}
	return status
}

func toAddressPayload(addr domain.Address, contact domain.Customer) addressPayload {
	return addressPayload{
		Name:    contact.Name,
		Street1: addr.Line1,
		Street2: addr.Line2,
		City:    addr.City,
		State:   addr.State,
		Zip:     addr.PostalCode,
		Country: addr.Country,
		Phone:   contact.Phone,
		Email:   contact.Email,
	}
}

func pickRate(rates []rate, service string) *rate {
	var best *rate
	var bestVal float64
	for i := range rates {
		r := &rates[i]
		if service != "" && r.Service != service {
			continue
		}
		val, err := strconv.ParseFloat(r.Rate, 64)
		if err != nil {
			continue
		}
		if best == nil || val < bestVal {
			best, bestVal = r, val
		}
	}
	return best
}

// do performs an authenticated round-trip and decodes the response.
// EasyPost uses the API key as the basic auth username.
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
	req.SetBasicAuth(a.config.Credentials.KeyID, "")
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
