// Package api exposes the checkout and payment HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"commercegate/internal/common/api"
	"commercegate/internal/common/database"
	"commercegate/internal/common/money"
	"commercegate/internal/domain"
	"commercegate/internal/payments"
)

// Handler handles payment HTTP requests.
type Handler struct {
	service *payments.Service
}

// NewHandler creates a payment handler.
func NewHandler(service *payments.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the checkout and payment routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/checkout/start", h.StartCheckout)
	r.Post("/checkout/confirm", h.ConfirmCheckout)
	r.Get("/payments/{id}", h.GetPayment)
	r.Post("/payments/{id}/refund", h.RefundPayment)

	return r
}

// StartCheckoutRequest is the API request for initiating a payment.
// Amount is a decimal major-unit string ("1499.00"); excess precision for
// the currency is rejected. Region is optional and defaults to the billing
// country; when both are sent they must agree.
type StartCheckoutRequest struct {
	OrderID        string            `json:"order_id" validate:"required"`
	Region         string            `json:"region"`
	Amount         string            `json:"amount" validate:"required"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required"`
	Customer       domain.Customer   `json:"customer" validate:"required"`
	BillingAddress domain.Address    `json:"billing_address" validate:"required"`
	LineItems      []domain.LineItem `json:"line_items" validate:"omitempty,dive"`
	Metadata       map[string]string `json:"metadata"`
}

// PaymentResponse is the API shape of a payment record.
type PaymentResponse struct {
	ID                string               `json:"id"`
	OrderID           string               `json:"order_id"`
	Provider          string               `json:"provider"`
	Region            string               `json:"region"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty"`
	Amount            string               `json:"amount"`
	Currency          string               `json:"currency"`
	Status            domain.PaymentStatus `json:"status"`
	RedirectURL       string               `json:"redirect_url,omitempty"`
	ErrorCode         string               `json:"error_code,omitempty"`
	ErrorMessage      string               `json:"error_message,omitempty"`
}

func toPaymentResponse(record *domain.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:                record.ID,
		OrderID:           record.OrderID,
		Provider:          record.Provider,
		Region:            record.Region,
		ProviderPaymentID: record.ProviderPaymentID,
		Amount:            record.Amount.MajorString(),
		Currency:          string(record.Amount.Currency),
		Status:            record.Status,
		RedirectURL:       record.RedirectURL,
		ErrorCode:         record.ErrorCode,
		ErrorMessage:      record.ErrorMessage,
	}
}

// StartCheckout handles POST /checkout/start.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req StartCheckoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	amount, err := money.ParseDecimal(req.Amount, money.Currency(req.Currency))
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
		return
	}

	record, err := h.service.InitiatePayment(r.Context(), &payments.InitiatePaymentRequest{
		OrderID:        req.OrderID,
		Region:         req.Region,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Customer:       req.Customer,
		BillingAddress: req.BillingAddress,
		LineItems:      req.LineItems,
		Metadata:       req.Metadata,
	})
	if err != nil {
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, toPaymentResponse(record))
}

// ConfirmCheckoutRequest is the API request for verifying a payment after
// the customer returns from the provider.
type ConfirmCheckoutRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
}

// ConfirmCheckout handles POST /checkout/confirm.
func (h *Handler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req ConfirmCheckoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	record, err := h.service.VerifyPayment(r.Context(), req.PaymentID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, toPaymentResponse(record))
}

// GetPayment handles GET /payments/{id}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, toPaymentResponse(record))
}

// RefundRequest is the API request for refunding a payment. An empty
// amount refunds the full charge.
type RefundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// RefundPayment handles POST /payments/{id}/refund.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	var req RefundRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	var amount money.Money
	if req.Amount != "" {
		record, err := h.service.GetPayment(r.Context(), paymentID)
		if err != nil {
			if database.IsNotFound(err) {
				api.NotFound(w, "payment not found")
				return
			}
			api.WriteAppError(w, err)
			return
		}
		amount, err = money.ParseDecimal(req.Amount, record.Amount.Currency)
		if err != nil {
			api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
			return
		}
	}

	record, err := h.service.RefundPayment(r.Context(), paymentID, amount, req.Reason)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.WriteAppError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, toPaymentResponse(record))
}
