// Package shipping orchestrates fulfillment: region-routed shipment
// creation, tracking, pre-transit cancellation, and webhook-driven status
// transitions.
package shipping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/database"
	"commercegate/internal/common/events"
	"commercegate/internal/common/keylock"
	"commercegate/internal/common/metrics"
	"commercegate/internal/domain"
	"commercegate/internal/orders"
	"commercegate/internal/providers"
	"commercegate/internal/region"
)

// Event subjects published by the shipping service.
const (
	SubjectShipmentCreated   = "shipment.created.v1"
	SubjectShipmentUpdated   = "shipment.updated.v1"
	SubjectShipmentCancelled = "shipment.cancelled.v1"
)

// ShipmentEvent is the payload for all shipment lifecycle events.
type ShipmentEvent struct {
	ShipmentID     string                `json:"shipment_id"`
	OrderID        string                `json:"order_id"`
	Provider       string                `json:"provider"`
	Region         string                `json:"region"`
	TrackingNumber string                `json:"tracking_number,omitempty"`
	Status         domain.ShipmentStatus `json:"status"`
	Timestamp      time.Time             `json:"timestamp"`
}

// ProviderFactory hands out shipping adapters. Satisfied by factory.Factory.
type ProviderFactory interface {
	ShippingProvider(regionCode string) (providers.ShippingProvider, error)
	ShippingProviderByName(provider string) (providers.ShippingProvider, error)
}

// Service coordinates shipment operations across stores and providers.
type Service struct {
	store     Store
	orders    orders.Store
	factory   ProviderFactory
	registry  *region.Registry
	publisher events.Publisher
	locks     *keylock.KeyLock
	logger    *slog.Logger
}

// NewService creates a shipping service.
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

// CreateShipmentRequest is the service-level shipment creation request.
// The destination country selects the region and therefore the carrier.
type CreateShipmentRequest struct {
	OrderID     string
	Recipient   domain.Customer
	Origin      domain.Address
	Destination domain.Address
	Items       []domain.LineItem
	Method      string
	WeightGrams int64
	Dimensions  domain.Dimensions
}

// CreateShipment books a shipment with the destination region's carrier.
// Only confirmed orders ship, and an order gets at most one shipment per
// carrier.
func (s *Service) CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*domain.ShipmentRecord, error) {
	if req.WeightGrams <= 0 {
		return nil, apperror.Validation("weight_grams", "weight must be positive")
	}

	reg, err := s.registry.Resolve(req.Destination.Country)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperror.Validationf("order_id", "order %s not found", req.OrderID)
		}
		return nil, fmt.Errorf("loading order: %w", err)
	}
	if order.Status != orders.OrderConfirmed {
		return nil, apperror.Validationf("order_id", "order %s is %s, only confirmed orders ship", order.ID, order.Status)
	}

	metrics.ShipmentAttempts.WithLabelValues("create", reg.ShippingProvider, reg.Code).Inc()

	record := domain.NewShipmentRecord(
		ulid.Make().String(), order.ID, reg.ShippingProvider, reg.Code,
		req.Method, req.WeightGrams, req.Dimensions, order.Total(),
	)

	if err := s.store.Create(ctx, record); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.Validationf("order_id", "order %s already has a %s shipment", order.ID, reg.ShippingProvider)
		}
		return nil, fmt.Errorf("persisting shipment: %w", err)
	}

	adapter, err := s.factory.ShippingProvider(reg.Code)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreateShipment(ctx, &providers.CreateShipmentRequest{
		Reference:     record.ID,
		OrderID:       order.ID,
		Recipient:     req.Recipient,
		Items:         req.Items,
		Origin:        req.Origin,
		Destination:   req.Destination,
		Method:        req.Method,
		WeightGrams:   req.WeightGrams,
		Dimensions:    req.Dimensions,
		DeclaredValue: order.Total(),
	})
	if err != nil {
		metrics.ShipmentFailures.WithLabelValues("create", reg.ShippingProvider, reg.Code, apperror.Kind(err)).Inc()
		if apperror.IsTimeout(err) {
			// The carrier may have booked the shipment. The pending record
			// stays for reconciliation.
			s.logger.Warn("shipment creation timed out",
				"shipment_id", record.ID,
				"provider", reg.ShippingProvider,
			)
			return nil, err
		}
		record.ErrorCode = "BOOKING_FAILED"
		record.ErrorMessage = err.Error()
		if transErr := record.Transition(domain.ShipmentFailed); transErr == nil {
			if updateErr := s.store.Update(ctx, record); updateErr != nil {
				s.logger.Error("failed to persist failed shipment", "error", updateErr, "shipment_id", record.ID)
			}
		}
		return nil, err
	}

	record.ProviderShipmentID = result.ProviderShipmentID
	record.TrackingNumber = result.TrackingNumber
	record.Cost = result.Cost
	record.EstimatedDelivery = result.EstimatedDelivery
	if err := record.Transition(result.Status); err != nil {
		s.logger.Warn("discarding illegal status from carrier booking",
			"shipment_id", record.ID,
			"from", record.Status,
			"to", result.Status,
		)
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting carrier reference: %w", err)
	}

	s.logger.Info("shipment created",
		"shipment_id", record.ID,
		"order_id", order.ID,
		"provider", record.Provider,
		"region", record.Region,
		"tracking_number", record.TrackingNumber,
	)
	s.publishEvent(ctx, SubjectShipmentCreated, record)
	return record, nil
}

// GetShipment returns a shipment record by ID.
func (s *Service) GetShipment(ctx context.Context, shipmentID string) (*domain.ShipmentRecord, error) {
	return s.store.Get(ctx, shipmentID)
}

// ListShipments returns an order's shipments.
func (s *Service) ListShipments(ctx context.Context, orderID string) ([]*domain.ShipmentRecord, error) {
	return s.store.GetByOrderID(ctx, orderID)
}

// TrackShipment fetches the carrier's tracking history and advances the
// record to the most recent reported status.
func (s *Service) TrackShipment(ctx context.Context, shipmentID string) (*domain.ShipmentRecord, []providers.ShipmentUpdate, error) {
	record, err := s.store.Get(ctx, shipmentID)
	if err != nil {
		return nil, nil, err
	}
	if record.TrackingNumber == "" {
		return record, nil, nil
	}

	metrics.ShipmentAttempts.WithLabelValues("track", record.Provider, record.Region).Inc()

	adapter, err := s.factory.ShippingProvider(record.Region)
	if err != nil {
		return nil, nil, err
	}

	updates, err := adapter.TrackShipment(ctx, record.TrackingNumber)
	if err != nil {
		metrics.ShipmentFailures.WithLabelValues("track", record.Provider, record.Region, apperror.Kind(err)).Inc()
		return nil, nil, err
	}
	if len(updates) == 0 {
		return record, nil, nil
	}

	latest := updates[0]
	for _, u := range updates[1:] {
		if u.At.After(latest.At) {
			latest = u
		}
	}

	if _, err := s.applyStatus(ctx, record, latest.Status); err != nil {
		return nil, nil, err
	}
	return record, updates, nil
}

// CancelShipment cancels a shipment that has not entered transit. The
// carrier may still refuse; refusal leaves the record untouched.
func (s *Service) CancelShipment(ctx context.Context, shipmentID, reason string) (*domain.ShipmentRecord, error) {
	record, err := s.store.Get(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if !record.Status.CanCancel() {
		return nil, &apperror.IllegalStateTransitionError{
			Entity: "shipment",
			ID:     record.ID,
			From:   string(record.Status),
			To:     string(domain.ShipmentCancelled),
		}
	}

	metrics.ShipmentAttempts.WithLabelValues("cancel", record.Provider, record.Region).Inc()

	adapter, err := s.factory.ShippingProvider(record.Region)
	if err != nil {
		return nil, err
	}

	ok, err := adapter.CancelShipment(ctx, record.ProviderShipmentID, reason)
	if err != nil {
		metrics.ShipmentFailures.WithLabelValues("cancel", record.Provider, record.Region, apperror.Kind(err)).Inc()
		return nil, err
	}
	if !ok {
		return nil, apperror.Validationf("shipment_id", "carrier refused to cancel shipment %s", record.ID)
	}

	if err := record.Transition(domain.ShipmentCancelled); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting cancellation: %w", err)
	}

	s.logger.Info("shipment cancelled",
		"shipment_id", record.ID,
		"reason", reason,
	)
	s.publishEvent(ctx, SubjectShipmentCancelled, record)
	return record, nil
}

// ApplyWebhookEvent applies a verified carrier webhook to the shipment it
// references. Events for unknown shipments and illegal transitions are
// logged and discarded; the webhook endpoint always acknowledges.
func (s *Service) ApplyWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	if event.Type != domain.WebhookShipmentUpdate || event.TrackingNumber == "" {
		return nil
	}

	unlock := s.locks.Lock("shipment:" + event.Provider + ":" + event.TrackingNumber)
	defer unlock()

	record, err := s.store.GetByTrackingNumber(ctx, event.Provider, event.TrackingNumber)
	if err != nil {
		if database.IsNotFound(err) {
			s.logger.Warn("webhook for unknown shipment",
				"provider", event.Provider,
				"tracking_number", event.TrackingNumber,
			)
			return nil
		}
		return fmt.Errorf("loading shipment for webhook: %w", err)
	}

	_, err = s.applyStatus(ctx, record, event.ShipmentStatus)
	return err
}

// applyStatus advances a record toward the target status, persisting and
// publishing on change. Backward or illegal transitions from stale carrier
// updates are discarded.
func (s *Service) applyStatus(ctx context.Context, record *domain.ShipmentRecord, target domain.ShipmentStatus) (*domain.ShipmentRecord, error) {
	if record.Status == target {
		return record, nil
	}

	prev := record.Status
	if err := s.advance(record, target); err != nil {
		if apperror.IsIllegalTransition(err) {
			s.logger.Warn("discarding illegal shipment transition",
				"shipment_id", record.ID,
				"from", prev,
				"to", target,
			)
			return record, nil
		}
		return nil, err
	}

	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting shipment status: %w", err)
	}

	s.logger.Info("shipment status changed",
		"shipment_id", record.ID,
		"from", prev,
		"to", record.Status,
	)
	s.publishEvent(ctx, SubjectShipmentUpdated, record)
	return record, nil
}

// shipmentForwardPath is the happy-path scan order, used to reconstruct
// scan events the carrier skipped.
var shipmentForwardPath = []domain.ShipmentStatus{
	domain.ShipmentPending,
	domain.ShipmentPacked,
	domain.ShipmentInTransit,
	domain.ShipmentOutForDelivery,
	domain.ShipmentDelivered,
}

func forwardIndex(status domain.ShipmentStatus) int {
	for i, s := range shipmentForwardPath {
		if s == status {
			return i
		}
	}
	return -1
}

// advance walks intermediate states the carrier never reported: a delivery
// landing on a packed record passes through in_transit and out_for_delivery
// first, and a return on a pre-transit record walks into transit before
// returning. Targets off the forward path transition directly.
func (s *Service) advance(record *domain.ShipmentRecord, target domain.ShipmentStatus) error {
	through := forwardIndex(target)
	if target == domain.ShipmentReturned {
		// Returns only happen once the parcel is moving.
		through = forwardIndex(domain.ShipmentInTransit) + 1
	}
	if from := forwardIndex(record.Status); from >= 0 && through > from+1 {
		for _, next := range shipmentForwardPath[from+1 : through] {
			if err := record.Transition(next); err != nil {
				return err
			}
		}
	}
	return record.Transition(target)
}

func (s *Service) publishEvent(ctx context.Context, subject string, record *domain.ShipmentRecord) {
	payload := ShipmentEvent{
		ShipmentID:     record.ID,
		OrderID:        record.OrderID,
		Provider:       record.Provider,
		Region:         record.Region,
		TrackingNumber: record.TrackingNumber,
		Status:         record.Status,
		Timestamp:      time.Now().UTC(),
	}

	env, err := events.NewEnvelope(subject, record.ID, payload)
	if err != nil {
		s.logger.Error("failed to build shipment event", "error", err, "subject", subject)
		return
	}
	if err := s.publisher.Publish(ctx, subject, env); err != nil {
		s.logger.Error("failed to publish shipment event",
			"error", err,
			"subject", subject,
			"shipment_id", record.ID,
		)
	}
}
