package messaging

import (
	"time"
)

// Anomaly kinds reported to a MetricsCollector
const (
	AnomalyUnknownTag   = "unknown_tag"
	AnomalyMissingTag   = "missing_tag"
	AnomalyMalformedTag = "malformed_tag"
	AnomalyDuplicateTag = "duplicate_tag"
	AnomalyClientFault  = "client_fault"
	AnomalyServerFault  = "server_fault"
	AnomalyDelivery     = "delivery_failed"
	AnomalyExpired      = "expired"
)

// MetricsCollector collects routing metrics
type MetricsCollector interface {
	// RecordForwarded records a request forwarded to the server
	RecordForwarded(client int)

	// RecordDelivered records a response delivered to a client along with
	// the time the request spent in flight
	RecordDelivered(client int, roundTrip time.Duration)

	// RecordAnomaly records a non-fatal routing anomaly
	RecordAnomaly(kind string)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordForwarded does nothing
func (n *NoOpMetricsCollector) RecordForwarded(client int) {}

// RecordDelivered does nothing
func (n *NoOpMetricsCollector) RecordDelivered(client int, roundTrip time.Duration) {}

// RecordAnomaly does nothing
func (n *NoOpMetricsCollector) RecordAnomaly(kind string) {}
