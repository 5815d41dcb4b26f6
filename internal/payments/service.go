// Package payments orchestrates the payment lifecycle: region-routed
// creation with at-most-once semantics, verification against the provider,
// refunds, and webhook-driven status transitions.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/database"
	"commercegate/internal/common/events"
	"commercegate/internal/common/keylock"
	"commercegate/internal/common/metrics"
	"commercegate/internal/common/money"
	"commercegate/internal/domain"
	"commercegate/internal/orders"
	"commercegate/internal/providers"
	"commercegate/internal/region"
)

// amountToleranceMinor is the largest difference, in minor units, tolerated
// between the requested amount and the order total. Covers rounding drift
// between systems; anything larger is rejected.
const amountToleranceMinor = 1

// ProviderFactory hands out payment adapters. Satisfied by factory.Factory.
type ProviderFactory interface {
	PaymentProvider(regionCode string) (providers.PaymentProvider, error)
	PaymentProviderByName(provider string) (providers.PaymentProvider, error)
}

// Service coordinates payment operations across stores and providers.
type Service struct {
	store     Store
	orders    orders.Store
	factory   ProviderFactory
	registry  *region.Registry
	publisher events.Publisher
	locks     *keylock.KeyLock
	logger    *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, orderStore orders.Store, factory ProviderFactory, registry *region.Registry, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     store,
		orders:    orderStore,
		factory:   factory,
		registry:  registry,
		publisher: publisher,
		locks:     keylock.New(),
		logger:    logger,
	}
}

// InitiatePaymentRequest is the service-level payment creation request.
type InitiatePaymentRequest struct {
	OrderID        string
	Region         string
	Amount         money.Money
	IdempotencyKey string
	Customer       domain.Customer
	BillingAddress domain.Address
	LineItems      []domain.LineItem
	Metadata       map[string]string
}

// InitiatePayment creates a payment with the region's provider. Repeated
// calls with the same idempotency key return the original record without a
// second provider call; the database unique constraint backs the guarantee
// under concurrency.
func (s *Service) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*domain.PaymentRecord, error) {
	if req.IdempotencyKey == "" {
		return nil, apperror.Validation("idempotency_key", "idempotency key is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.Validation("amount", "amount must be positive")
	}

	// The billing country drives region routing. An explicit region must
	// agree with it; leaving it empty derives the region outright.
	regionCode := req.Region
	if regionCode == "" {
		regionCode = req.BillingAddress.Country
	}
	reg, err := s.registry.Resolve(regionCode)
	if err != nil {
		return nil, err
	}
	if req.BillingAddress.Country != "" && req.BillingAddress.Country != reg.Code {
		return nil, apperror.Validationf("billing_address.country", "billing country %s does not match region %s", req.BillingAddress.Country, reg.Code)
	}
	if req.Amount.Currency != reg.Currency {
		return nil, apperror.Validationf("currency", "region %s settles in %s, got %s", reg.Code, reg.Currency, req.Amount.Currency)
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperror.Validationf("order_id", "order %s not found", req.OrderID)
		}
		return nil, fmt.Errorf("loading order: %w", err)
	}
	if order.Status != orders.OrderPending {
		return nil, apperror.Validationf("order_id", "order %s is %s, not payable", order.ID, order.Status)
	}
	if !req.Amount.WithinTolerance(order.Total(), amountToleranceMinor) {
		return nil, apperror.Validationf("amount", "amount %s does not match order total %s", req.Amount, order.Total())
	}

	metrics.PaymentAttempts.WithLabelValues("initiate", reg.PaymentProvider, reg.Code).Inc()

	// Fast path: a record already created for this key is returned as-is.
	if existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		s.logger.Info("idempotent payment replay",
			"payment_id", existing.ID,
			"idempotency_key", req.IdempotencyKey,
		)
		metrics.PaymentIdempotentReplays.WithLabelValues(existing.Provider, existing.Region).Inc()
		return existing, nil
	} else if !database.IsNotFound(err) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	record := domain.NewPaymentRecord(
		ulid.Make().String(), order.ID, reg.PaymentProvider, reg.Code,
		req.Amount, req.IdempotencyKey, req.Metadata,
	)

	// Persist before calling the provider so a crash mid-call leaves a
	// pending record to reconcile, never an untracked provider payment.
	if err := s.store.Create(ctx, record); err != nil {
		if database.IsUniqueViolation(err) {
			existing, lookupErr := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("idempotency fallback lookup: %w", lookupErr)
			}
			metrics.PaymentIdempotentReplays.WithLabelValues(existing.Provider, existing.Region).Inc()
			return existing, nil
		}
		return nil, fmt.Errorf("persisting payment: %w", err)
	}

	adapter, err := s.factory.PaymentProvider(reg.Code)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreatePayment(ctx, &providers.CreatePaymentRequest{
		Reference:      record.ID,
		OrderID:        order.ID,
		Amount:         req.Amount,
		Customer:       req.Customer,
		BillingAddress: req.BillingAddress,
		LineItems:      req.LineItems,
		Metadata:       req.Metadata,
	})
	if err != nil {
		metrics.PaymentFailures.WithLabelValues("initiate", reg.PaymentProvider, reg.Code, apperror.Kind(err)).Inc()
		if apperror.IsTimeout(err) {
			// The provider may have created the payment. The record stays
			// pending under its key; a retry or webhook reconciles it.
			s.logger.Warn("payment creation timed out",
				"payment_id", record.ID,
				"provider", reg.PaymentProvider,
			)
			return nil, err
		}
		if markErr := record.MarkFailed(providerErrorCode(err), err.Error()); markErr == nil {
			if updateErr := s.store.Update(ctx, record); updateErr != nil {
				s.logger.Error("failed to persist failed payment", "error", updateErr, "payment_id", record.ID)
			}
			s.publish(ctx, SubjectPaymentFailed, record)
		}
		return nil, err
	}

	record.ProviderPaymentID = result.ProviderPaymentID
	record.RedirectURL = result.ApprovalURL
	mergeMetadata(record, result.Metadata)
	if err := s.advance(record, result.Status); err != nil {
		s.logger.Warn("discarding illegal status from provider create",
			"payment_id", record.ID,
			"from", record.Status,
			"to", result.Status,
		)
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting provider reference: %w", err)
	}

	s.logger.Info("payment initiated",
		"payment_id", record.ID,
		"order_id", order.ID,
		"provider", record.Provider,
		"region", record.Region,
		"provider_payment_id", record.ProviderPaymentID,
	)
	s.publish(ctx, SubjectPaymentInitiated, record)
	return record, nil
}

// GetPayment returns a payment record by ID.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	return s.store.Get(ctx, paymentID)
}

// VerifyPayment re-checks a payment against its provider and advances the
// record. Terminal records are returned untouched without a provider call.
func (s *Service) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	record, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if record.Status.IsTerminal() || record.Status == domain.PaymentCompleted {
		return record, nil
	}
	if record.ProviderPaymentID == "" {
		return record, nil
	}

	metrics.PaymentAttempts.WithLabelValues("verify", record.Provider, record.Region).Inc()

	// The record's own region picks the adapter, never a fresh resolution:
	// a region reconfiguration must not strand in-flight payments.
	adapter, err := s.factory.PaymentProvider(record.Region)
	if err != nil {
		return nil, err
	}

	result, err := adapter.VerifyPayment(ctx, record.ProviderPaymentID)
	if err != nil {
		metrics.PaymentFailures.WithLabelValues("verify", record.Provider, record.Region, apperror.Kind(err)).Inc()
		return nil, err
	}

	return s.applyStatus(ctx, record, result.Status, result.Metadata, "", "")
}

// RefundPayment refunds a completed payment. A zero amount refunds the full
// charge. Non-completed payments are rejected before any provider call.
func (s *Service) RefundPayment(ctx context.Context, paymentID string, amount money.Money, reason string) (*domain.PaymentRecord, error) {
	record, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.PaymentCompleted {
		return nil, &apperror.IllegalStateTransitionError{
			Entity: "payment",
			ID:     record.ID,
			From:   string(record.Status),
			To:     string(domain.PaymentRefunded),
		}
	}

	if amount.IsZero() {
		amount = record.Amount
	}
	if amount.Currency != record.Amount.Currency {
		return nil, apperror.Validationf("amount", "refund currency %s does not match payment currency %s", amount.Currency, record.Amount.Currency)
	}
	if amount.AmountMinor > record.Amount.AmountMinor {
		return nil, apperror.Validationf("amount", "refund %s exceeds captured amount %s", amount, record.Amount)
	}

	metrics.PaymentAttempts.WithLabelValues("refund", record.Provider, record.Region).Inc()

	adapter, err := s.factory.PaymentProvider(record.Region)
	if err != nil {
		return nil, err
	}

	result, err := adapter.RefundPayment(ctx, record.ProviderPaymentID, amount, reason)
	if err != nil {
		metrics.PaymentFailures.WithLabelValues("refund", record.Provider, record.Region, apperror.Kind(err)).Inc()
		return nil, err
	}

	mergeMetadata(record, result.Metadata)
	if err := record.Transition(domain.PaymentRefunded); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting refund: %w", err)
	}

	s.logger.Info("payment refunded",
		"payment_id", record.ID,
		"provider", record.Provider,
		"amount_minor", amount.AmountMinor,
	)
	s.publish(ctx, SubjectPaymentRefunded, record)
	return record, nil
}

// ApplyWebhookEvent applies a verified provider webhook to the payment it
// references. Events for unknown payments and illegal transitions are
// logged and discarded; the webhook endpoint always acknowledges.
func (s *Service) ApplyWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	target, ok := event.PaymentStatus()
	if !ok {
		return nil
	}

	unlock := s.locks.Lock("payment:" + event.Provider + ":" + event.ProviderPaymentID)
	defer unlock()

	record, err := s.store.GetByProviderPaymentID(ctx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		if database.IsNotFound(err) {
			s.logger.Warn("webhook for unknown payment",
				"provider", event.Provider,
				"provider_payment_id", event.ProviderPaymentID,
				"event_type", event.Type,
			)
			return nil
		}
		return fmt.Errorf("loading payment for webhook: %w", err)
	}

	_, err = s.applyStatus(ctx, record, target, nil, event.ErrorCode, event.ErrorMessage)
	return err
}

// applyStatus advances a record toward the target status, persisting and
// publishing on change. Completion implied by a pending record walks
// through processing first so the transition history stays canonical.
func (s *Service) applyStatus(ctx context.Context, record *domain.PaymentRecord, target domain.PaymentStatus, metadata map[string]string, errorCode, errorMessage string) (*domain.PaymentRecord, error) {
	if record.Status == target {
		return record, nil
	}

	prev := record.Status
	var transitionErr error
	if target == domain.PaymentFailed {
		transitionErr = record.MarkFailed(errorCode, errorMessage)
	} else {
		transitionErr = s.advance(record, target)
	}
	if transitionErr != nil {
		if apperror.IsIllegalTransition(transitionErr) {
			s.logger.Warn("discarding illegal payment transition",
				"payment_id", record.ID,
				"from", prev,
				"to", target,
			)
			return record, nil
		}
		return nil, transitionErr
	}

	mergeMetadata(record, metadata)
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting payment status: %w", err)
	}

	s.logger.Info("payment status changed",
		"payment_id", record.ID,
		"from", prev,
		"to", record.Status,
	)

	switch record.Status {
	case domain.PaymentCompleted:
		if err := s.orders.MarkConfirmed(ctx, record.OrderID); err != nil {
			s.logger.Error("failed to confirm order", "error", err, "order_id", record.OrderID)
		}
		s.publish(ctx, SubjectPaymentCompleted, record)
	case domain.PaymentFailed:
		s.publish(ctx, SubjectPaymentFailed, record)
	case domain.PaymentRefunded:
		s.publish(ctx, SubjectPaymentRefunded, record)
	}
	return record, nil
}

// advance walks intermediate states the provider never reports explicitly:
// a completion landing on a pending record passes through processing.
func (s *Service) advance(record *domain.PaymentRecord, target domain.PaymentStatus) error {
	if record.Status == domain.PaymentPending &&
		(target == domain.PaymentCompleted || target == domain.PaymentRefunded) {
		if err := record.Transition(domain.PaymentProcessing); err != nil {
			return err
		}
	}
	if record.Status == domain.PaymentProcessing && target == domain.PaymentRefunded {
		if err := record.Transition(domain.PaymentCompleted); err != nil {
			return err
		}
	}
	return record.Transition(target)
}

func mergeMetadata(record *domain.PaymentRecord, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if record.Metadata == nil {
		record.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		record.Metadata[k] = v
	}
}

func providerErrorCode(err error) string {
	var provErr *apperror.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Code
	}
	return "PROVIDER_ERROR"
}
