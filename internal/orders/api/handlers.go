// Package api exposes the minimal order HTTP surface checkout depends on.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"commercegate/internal/common/api"
	"commercegate/internal/common/database"
	"commercegate/internal/common/money"
	"commercegate/internal/orders"
)

// Handler handles order HTTP requests.
type Handler struct {
	store orders.Store
}

// NewHandler creates an order handler.
func NewHandler(store orders.Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the order routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateOrder)
	r.Get("/{id}", h.GetOrder)

	return r
}

// CreateOrderRequest is the API request for creating an order. Total is a
// decimal major-unit string.
type CreateOrderRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Total      string `json:"total" validate:"required"`
	Currency   string `json:"currency" validate:"required,len=3"`
}

// OrderResponse is the API shape of an order.
type OrderResponse struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	Total      string             `json:"total"`
	Currency   string             `json:"currency"`
	Status     orders.OrderStatus `json:"status"`
}

func toOrderResponse(o *orders.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Total:      o.Total().MajorString(),
		Currency:   string(o.Currency),
		Status:     o.Status,
	}
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	total, err := money.ParseDecimal(req.Total, money.Currency(req.Currency))
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
		return
	}

	now := time.Now().UTC()
	order := &orders.Order{
		ID:         ulid.Make().String(),
		CustomerID: req.CustomerID,
		TotalMinor: total.AmountMinor,
		Currency:   total.Currency,
		Status:     orders.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.Create(r.Context(), order); err != nil {
		api.InternalError(w, "could not create order")
		return
	}

	api.WriteData(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "order not found")
			return
		}
		api.InternalError(w, "could not load order")
		return
	}

	api.WriteData(w, http.StatusOK, toOrderResponse(order))
}
