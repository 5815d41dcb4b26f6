// Package webhooks receives provider callbacks, authenticates them before
// any parsing, deduplicates replays through the audit log, and hands the
// canonical events to the payment and shipping services.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"commercegate/internal/common/api"
	"commercegate/internal/common/database"
	"commercegate/internal/common/metrics"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
)

// maxBodyBytes bounds webhook bodies. Provider payloads are small; anything
// larger is rejected before signature work.
const maxBodyBytes = 1 << 20

// AdapterSource resolves adapters by provider name. Satisfied by
// factory.Factory.
type AdapterSource interface {
	PaymentProviderByName(provider string) (providers.PaymentProvider, error)
	ShippingProviderByName(provider string) (providers.ShippingProvider, error)
}

// EventApplier applies a canonical webhook event to its domain record.
type EventApplier interface {
	ApplyWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
}

// Handler handles inbound provider webhooks.
type Handler struct {
	adapters AdapterSource
	payments EventApplier
	shipping EventApplier
	store    Store
	logger   *slog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(adapters AdapterSource, payments, shipping EventApplier, store Store, logger *slog.Logger) *Handler {
	return &Handler{
		adapters: adapters,
		payments: payments,
		shipping: shipping,
		store:    store,
		logger:   logger,
	}
}

// Routes returns the webhook routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/payments/{provider}", h.PaymentWebhook)
	r.Post("/shipping/{provider}", h.ShippingWebhook)

	return r
}

// validator is the authenticate-then-parse slice of a provider adapter.
type validator interface {
	ValidateWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*domain.WebhookEvent, error)
}

// PaymentWebhook handles POST /webhooks/payments/{provider}.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	adapter, err := h.adapters.PaymentProviderByName(provider)
	if err != nil {
		api.NotFound(w, "unknown payment provider")
		return
	}
	h.handle(w, r, provider, adapter, h.payments)
}

// ShippingWebhook handles POST /webhooks/shipping/{provider}.
func (h *Handler) ShippingWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	adapter, err := h.adapters.ShippingProviderByName(provider)
	if err != nil {
		api.NotFound(w, "unknown shipping provider")
		return
	}
	h.handle(w, r, provider, adapter, h.shipping)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, provider string, adapter validator, applier EventApplier) {
	metrics.WebhooksReceived.WithLabelValues(provider).Inc()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues(provider, "read_error").Inc()
		api.BadRequest(w, "could not read body")
		return
	}

	// The signature gate runs before any payload inspection. A missing or
	// bad signature is a potential forgery attempt and is logged as such.
	signature := r.Header.Get(SignatureHeader(provider))
	if !adapter.ValidateWebhook(payload, signature) {
		h.logger.Warn("webhook signature rejected",
			"provider", provider,
			"remote_addr", r.RemoteAddr,
			"has_signature", signature != "",
		)
		metrics.WebhooksRejected.WithLabelValues(provider, "bad_signature").Inc()
		api.Unauthorized(w, "invalid webhook signature")
		return
	}

	event, err := adapter.ParseWebhook(payload)
	if err != nil {
		h.logger.Warn("webhook parse failed", "provider", provider, "error", err)
		metrics.WebhooksRejected.WithLabelValues(provider, "malformed").Inc()
		api.BadRequest(w, "malformed webhook payload")
		return
	}

	// The audit insert doubles as the dedup gate: a replayed delivery hits
	// the unique constraint and is acknowledged without reprocessing.
	if err := h.store.Insert(r.Context(), event); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			h.logger.Info("webhook replay acknowledged",
				"provider", provider,
				"event_id", event.ID,
			)
			api.WriteData(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		h.logger.Error("webhook audit insert failed", "provider", provider, "error", err)
		api.InternalError(w, "could not record webhook")
		return
	}

	if err := applier.ApplyWebhookEvent(r.Context(), event); err != nil {
		// Roll the audit row back so the provider's redelivery passes the
		// dedup gate and reprocesses the event.
		if delErr := h.store.Delete(r.Context(), event.Provider, event.ID); delErr != nil {
			h.logger.Error("webhook audit rollback failed", "provider", provider, "error", delErr)
		}
		h.logger.Error("webhook apply failed",
			"provider", provider,
			"event_id", event.ID,
			"error", err,
		)
		api.InternalError(w, "could not process webhook")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{"status": "processed"})
}

// SignatureHeader returns the canonical signature header for a provider,
// e.g. X-Razorpay-Signature.
func SignatureHeader(provider string) string {
	if provider == "" {
		return "X-Webhook-Signature"
	}
	return fmt.Sprintf("X-%s%s-Signature", strings.ToUpper(provider[:1]), strings.ToLower(provider[1:]))
}
