// Package metrics defines the Prometheus instruments for provider
// orchestration. Every attempt, success and failure is tagged by provider
// and region so operators can alert per deployment without the services
// knowing about the metrics backend.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentAttempts counts initiate/verify/refund attempts per provider and region.
	PaymentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Payment operations attempted",
		},
		[]string{"op", "provider", "region"},
	)

	// PaymentFailures counts failed payment operations by error kind.
	PaymentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_failures_total",
			Help: "Payment operations that failed",
		},
		[]string{"op", "provider", "region", "kind"},
	)

	// PaymentIdempotentReplays counts initiate calls answered from an existing record.
	PaymentIdempotentReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_idempotent_replays_total",
			Help: "Payment initiations answered from an existing idempotency key",
		},
		[]string{"provider", "region"},
	)

	// ShipmentAttempts counts shipment operations per provider and region.
	ShipmentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_attempts_total",
			Help: "Shipment operations attempted",
		},
		[]string{"op", "provider", "region"},
	)

	// ShipmentFailures counts failed shipment operations by error kind.
	ShipmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_failures_total",
			Help: "Shipment operations that failed",
		},
		[]string{"op", "provider", "region", "kind"},
	)

	// ProviderCallDuration observes outbound provider call latency.
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Latency of outbound provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "provider", "region"},
	)

	// WebhooksReceived counts inbound webhooks per provider.
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Inbound provider webhooks received",
		},
		[]string{"provider"},
	)

	// WebhooksRejected counts webhooks rejected before processing.
	WebhooksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_rejected_total",
			Help: "Inbound webhooks rejected",
		},
		[]string{"provider", "reason"},
	)

	// UnmappedProviderStatuses counts provider statuses with no canonical mapping.
	UnmappedProviderStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmapped_provider_statuses_total",
			Help: "Provider status strings that fell back to the conservative default",
		},
		[]string{"provider"},
	)
)

// ObserveProviderCall records the duration of an outbound provider call.
func ObserveProviderCall(op, provider, region string, start time.Time) {
	ProviderCallDuration.WithLabelValues(op, provider, region).Observe(time.Since(start).Seconds())
}
