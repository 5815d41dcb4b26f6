package domain

import (
	"time"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/money"
)

// ShipmentStatus is the canonical shipment lifecycle state.
type ShipmentStatus string

const (
	ShipmentPending        ShipmentStatus = "pending"
	ShipmentPacked         ShipmentStatus = "packed"
	ShipmentInTransit      ShipmentStatus = "in_transit"
	ShipmentOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentDelivered      ShipmentStatus = "delivered"
	ShipmentFailed         ShipmentStatus = "failed"
	ShipmentReturned       ShipmentStatus = "returned"
	ShipmentCancelled      ShipmentStatus = "cancelled"
)

// Shipments move forward only; a failure or return is possible from any
// in-flight state, and cancellation only before the parcel is moving.
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentPending:        {ShipmentPacked, ShipmentInTransit, ShipmentFailed, ShipmentCancelled},
	ShipmentPacked:         {ShipmentInTransit, ShipmentFailed, ShipmentCancelled},
	ShipmentInTransit:      {ShipmentOutForDelivery, ShipmentDelivered, ShipmentFailed, ShipmentReturned},
	ShipmentOutForDelivery: {ShipmentDelivered, ShipmentFailed, ShipmentReturned},
}

// CanTransition reports whether from -> to is a legal shipment transition.
func (s ShipmentStatus) CanTransition(to ShipmentStatus) bool {
	for _, next := range shipmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s ShipmentStatus) IsTerminal() bool {
	return len(shipmentTransitions[s]) == 0
}

// CanCancel reports whether the shipment may still be cancelled.
func (s ShipmentStatus) CanCancel() bool {
	return s.CanTransition(ShipmentCancelled)
}

// Dimensions are parcel dimensions in centimetres.
type Dimensions struct {
	LengthCm float64 `json:"length_cm"`
	WidthCm  float64 `json:"width_cm"`
	HeightCm float64 `json:"height_cm"`
}

// ShipmentRecord is the persisted shipment.
type ShipmentRecord struct {
	ID                 string         `json:"id"`
	OrderID            string         `json:"order_id"`
	Provider           string         `json:"provider"`
	Region             string         `json:"region"`
	ProviderShipmentID string         `json:"provider_shipment_id,omitempty"`
	TrackingNumber     string         `json:"tracking_number,omitempty"`
	Status             ShipmentStatus `json:"status"`
	Cost               money.Money    `json:"cost"`
	Method             string         `json:"method"`
	WeightGrams        int64          `json:"weight_grams"`
	Dimensions         Dimensions     `json:"dimensions"`
	DeclaredValue      money.Money    `json:"declared_value"`
	EstimatedDelivery  *time.Time     `json:"estimated_delivery,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewShipmentRecord creates a provisional pending shipment.
func NewShipmentRecord(id, orderID, provider, region, method string, weightGrams int64, dims Dimensions, declaredValue money.Money) *ShipmentRecord {
	now := time.Now().UTC()
	return &ShipmentRecord{
		ID:            id,
		OrderID:       orderID,
		Provider:      provider,
		Region:        region,
		Method:        method,
		WeightGrams:   weightGrams,
		Dimensions:    dims,
		DeclaredValue: declaredValue,
		Status:        ShipmentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the shipment to the target status, rejecting anything
// the state machine forbids. A same-status transition is a no-op.
func (s *ShipmentRecord) Transition(to ShipmentStatus) error {
	if s.Status == to {
		return nil
	}
	if !s.Status.CanTransition(to) {
		return &apperror.IllegalStateTransitionError{
			Entity: "shipment",
			ID:     s.ID,
			From:   string(s.Status),
			To:     string(to),
		}
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}
