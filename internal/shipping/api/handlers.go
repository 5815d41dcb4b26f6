// Package api exposes the fulfillment HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"commercegate/internal/common/api"
	"commercegate/internal/common/apperror"
	"commercegate/internal/common/database"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
	"commercegate/internal/shipping"
)

// Handler handles shipping HTTP requests.
type Handler struct {
	service *shipping.Service
}

// NewHandler creates a shipping handler.
func NewHandler(service *shipping.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the shipment routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateShipment)
	r.Get("/", h.ListShipments)
	r.Get("/{id}", h.GetShipment)
	r.Get("/{id}/tracking", h.TrackShipment)
	r.Post("/{id}/cancel", h.CancelShipment)

	return r
}

// CreateShipmentRequest is the API request for booking a shipment.
type CreateShipmentRequest struct {
	OrderID     string            `json:"order_id" validate:"required"`
	Recipient   domain.Customer   `json:"recipient" validate:"required"`
	Origin      domain.Address    `json:"origin" validate:"required"`
	Destination domain.Address    `json:"destination" validate:"required"`
	Items       []domain.LineItem `json:"items" validate:"omitempty,dive"`
	Method      string            `json:"method"`
	WeightGrams int64             `json:"weight_grams" validate:"required,gt=0"`
	Dimensions  domain.Dimensions `json:"dimensions"`
}

// ShipmentResponse is the API shape of a shipment record.
type ShipmentResponse struct {
	ID                 string                `json:"id"`
	OrderID            string                `json:"order_id"`
	Provider           string                `json:"provider"`
	Region             string                `json:"region"`
	ProviderShipmentID string                `json:"provider_shipment_id,omitempty"`
	TrackingNumber     string                `json:"tracking_number,omitempty"`
	Status             domain.ShipmentStatus `json:"status"`
	Cost               string                `json:"cost,omitempty"`
	Currency           string                `json:"currency,omitempty"`
	Method             string                `json:"method,omitempty"`
	EstimatedDelivery  string                `json:"estimated_delivery,omitempty"`
	ErrorCode          string                `json:"error_code,omitempty"`
	ErrorMessage       string                `json:"error_message,omitempty"`
}

func toShipmentResponse(record *domain.ShipmentRecord) ShipmentResponse {
	resp := ShipmentResponse{
		ID:                 record.ID,
		OrderID:            record.OrderID,
		Provider:           record.Provider,
		Region:             record.Region,
		ProviderShipmentID: record.ProviderShipmentID,
		TrackingNumber:     record.TrackingNumber,
		Status:             record.Status,
		Method:             record.Method,
		ErrorCode:          record.ErrorCode,
		ErrorMessage:       record.ErrorMessage,
	}
	if !record.Cost.IsZero() {
		resp.Cost = record.Cost.MajorString()
		resp.Currency = string(record.Cost.Currency)
	}
	if record.EstimatedDelivery != nil {
		resp.EstimatedDelivery = record.EstimatedDelivery.Format("2006-01-02")
	}
	return resp
}

// CreateShipment handles POST /shipments.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req CreateShipmentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	record, err := h.service.CreateShipment(r.Context(), &shipping.CreateShipmentRequest{
		OrderID:     req.OrderID,
		Recipient:   req.Recipient,
		Origin:      req.Origin,
		Destination: req.Destination,
		Items:       req.Items,
		Method:      req.Method,
		WeightGrams: req.WeightGrams,
		Dimensions:  req.Dimensions,
	})
	if err != nil {
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, toShipmentResponse(record))
}

// GetShipment handles GET /shipments/{id}.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetShipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "shipment not found")
			return
		}
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, toShipmentResponse(record))
}

// TrackingUpdate is one tracking event in the API response.
type TrackingUpdate struct {
	Status      domain.ShipmentStatus `json:"status"`
	RawStatus   string                `json:"raw_status"`
	Location    string                `json:"location,omitempty"`
	Description string                `json:"description,omitempty"`
	At          string                `json:"at,omitempty"`
}

// TrackingResponse is the API response for shipment tracking.
type TrackingResponse struct {
	Shipment ShipmentResponse `json:"shipment"`
	Updates  []TrackingUpdate `json:"updates"`
}

// TrackShipment handles GET /shipments/{id}/tracking.
func (h *Handler) TrackShipment(w http.ResponseWriter, r *http.Request) {
	record, updates, err := h.service.TrackShipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "shipment not found")
			return
		}
		api.WriteAppError(w, err)
		return
	}

	resp := TrackingResponse{
		Shipment: toShipmentResponse(record),
		Updates:  make([]TrackingUpdate, 0, len(updates)),
	}
	for _, u := range updates {
		resp.Updates = append(resp.Updates, toTrackingUpdate(u))
	}
	api.WriteData(w, http.StatusOK, resp)
}

func toTrackingUpdate(u providers.ShipmentUpdate) TrackingUpdate {
	out := TrackingUpdate{
		Status:      u.Status,
		RawStatus:   u.RawStatus,
		Location:    u.Location,
		Description: u.Description,
	}
	if !u.At.IsZero() {
		out.At = u.At.UTC().Format(time.RFC3339)
	}
	return out
}

// CancelShipmentRequest is the API request for cancelling a shipment.
type CancelShipmentRequest struct {
	Reason string `json:"reason"`
}

// CancelShipment handles POST /shipments/{id}/cancel.
func (h *Handler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	var req CancelShipmentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	record, err := h.service.CancelShipment(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "shipment not found")
			return
		}
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, toShipmentResponse(record))
}

// ListShipments handles GET /shipments?order_id={orderID}.
func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		api.WriteAppError(w, apperror.Validation("order_id", "query parameter is required"))
		return
	}

	records, err := h.service.ListShipments(r.Context(), orderID)
	if err != nil {
		api.WriteAppError(w, err)
		return
	}

	out := make([]ShipmentResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toShipmentResponse(record))
	}
	api.WriteData(w, http.StatusOK, out)
}
