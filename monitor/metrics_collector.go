package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/messaging"
)

const maxSamples = 100

// RoutingMetricsCollector implements an in-memory collector for relay traffic
type RoutingMetricsCollector struct {
	mu sync.RWMutex

	// Requests forwarded to the server, by client index
	forwarded map[int]int64

	// Responses delivered back, by client index
	delivered map[int]int64

	// Anomaly counters by kind
	anomalies map[string]int64

	// Round trip stats across all clients
	roundTrips *TimeStats
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64 // Keep last 100 samples for percentiles
}

// NewRoutingMetricsCollector creates a new in-memory metrics collector
func NewRoutingMetricsCollector() *RoutingMetricsCollector {
	c := &RoutingMetricsCollector{}
	c.reset()
	return c
}

// RecordForwarded implements messaging.MetricsCollector
func (c *RoutingMetricsCollector) RecordForwarded(client int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwarded[client]++
}

// RecordDelivered implements messaging.MetricsCollector
func (c *RoutingMetricsCollector) RecordDelivered(client int, roundTrip time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delivered[client]++
	c.roundTrips.add(roundTrip.Milliseconds())
}

// RecordAnomaly implements messaging.MetricsCollector
func (c *RoutingMetricsCollector) RecordAnomaly(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anomalies[kind]++
}

func (s *TimeStats) add(durationMs int64) {
	if s.Count == 0 || durationMs < s.MinMs {
		s.MinMs = durationMs
	}
	if durationMs > s.MaxMs {
		s.MaxMs = durationMs
	}
	s.Count++
	s.TotalMs += durationMs

	if len(s.samples) >= maxSamples {
		s.samples = s.samples[1:]
	}
	s.samples = append(s.samples, durationMs)
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	Forwarded  map[int]int64    `json:"forwarded"`
	Delivered  map[int]int64    `json:"delivered"`
	Anomalies  map[string]int64 `json:"anomalies"`
	RoundTrip  ProcessingStats  `json:"round_trip"`
	InFlight   int64            `json:"in_flight"`
	SnapshotAt time.Time        `json:"snapshot_at"`
}

// ProcessingStats represents round trip time statistics
type ProcessingStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// GetMetricsSummary returns a summary of all collected metrics
func (c *RoutingMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Forwarded:  make(map[int]int64, len(c.forwarded)),
		Delivered:  make(map[int]int64, len(c.delivered)),
		Anomalies:  make(map[string]int64, len(c.anomalies)),
		SnapshotAt: time.Now(),
	}

	var forwarded, delivered int64
	for client, count := range c.forwarded {
		summary.Forwarded[client] = count
		forwarded += count
	}
	for client, count := range c.delivered {
		summary.Delivered[client] = count
		delivered += count
	}
	for kind, count := range c.anomalies {
		summary.Anomalies[kind] = count
	}

	// Forwarded requests that were neither resolved nor expired
	summary.InFlight = forwarded - delivered -
		c.anomalies[messaging.AnomalyExpired] -
		c.anomalies[messaging.AnomalyDelivery]
	if summary.InFlight < 0 {
		summary.InFlight = 0
	}

	stats := c.roundTrips
	summary.RoundTrip = ProcessingStats{
		Count: stats.Count,
		MinMs: stats.MinMs,
		MaxMs: stats.MaxMs,
	}
	if stats.Count > 0 {
		summary.RoundTrip.AvgMs = stats.TotalMs / stats.Count
	}
	if len(stats.samples) > 0 {
		sorted := make([]int64, len(stats.samples))
		copy(sorted, stats.samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		summary.RoundTrip.P50Ms = percentile(sorted, 0.50)
		summary.RoundTrip.P95Ms = percentile(sorted, 0.95)
		summary.RoundTrip.P99Ms = percentile(sorted, 0.99)
	}

	return summary
}

// percentile picks the value at the given rank from pre-sorted samples
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Reset clears all collected metrics
func (c *RoutingMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *RoutingMetricsCollector) reset() {
	c.forwarded = make(map[int]int64)
	c.delivered = make(map[int]int64)
	c.anomalies = make(map[string]int64)
	c.roundTrips = &TimeStats{samples: make([]int64, 0, maxSamples)}
}

var _ messaging.MetricsCollector = (*RoutingMetricsCollector)(nil)
