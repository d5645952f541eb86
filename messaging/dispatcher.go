package messaging

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher defaults
const (
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultSweepInterval = 5 * time.Second
	DefaultEntryTTL      = 30 * time.Second
)

// StepResult summarizes one dispatch cycle
type StepResult struct {
	Forwarded int  // Requests forwarded to the server
	Responded bool // Whether a server response was taken
}

// Idle reports whether the cycle moved no messages
func (s StepResult) Idle() bool {
	return s.Forwarded == 0 && !s.Responded
}

// Dispatcher alternates request routing and response routing.
// Each cycle forwards at most one request per client and then handles at
// most one server response. Between idle cycles it waits for a queue to
// signal an arrival, bounded by the poll interval.
type Dispatcher struct {
	requests      *RequestRouter
	responses     *ResponseRouter
	table         *CorrelationTable
	logger        *slog.Logger
	metrics       MetricsCollector
	pollInterval  time.Duration
	sweepInterval time.Duration
	entryTTL      time.Duration
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics collector used for expiry reporting
func WithDispatcherMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithPollInterval bounds how long an idle dispatcher waits before polling again
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.pollInterval = interval
	}
}

// WithSweepInterval sets how often expired entries are evicted.
// Non-positive values keep DefaultSweepInterval.
func WithSweepInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.sweepInterval = interval
		}
	}
}

// WithEntryTTL sets how long a request may wait for its response.
// Zero disables expiry.
func WithEntryTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.entryTTL = ttl
	}
}

// NewDispatcher creates a dispatcher over the two routers.
// Both routers must share the same correlation table.
func NewDispatcher(requests *RequestRouter, responses *ResponseRouter, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		requests:      requests,
		responses:     responses,
		table:         requests.table,
		logger:        slog.Default(),
		metrics:       &NoOpMetricsCollector{},
		pollInterval:  DefaultPollInterval,
		sweepInterval: DefaultSweepInterval,
		entryTTL:      DefaultEntryTTL,
	}

	for _, opt := range options {
		opt(d)
	}

	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}

	return d
}

// Step runs one cycle: request routing over all clients, then one response
func (d *Dispatcher) Step(ctx context.Context) StepResult {
	forwarded := d.requests.Route(ctx)
	responded := d.responses.Route(ctx)
	return StepResult{Forwarded: forwarded, Responded: responded}
}

// Sweep evicts entries older than the entry TTL and returns how many were evicted
func (d *Dispatcher) Sweep() int {
	expired := d.table.Expire(d.entryTTL)
	for _, entry := range expired {
		d.metrics.RecordAnomaly(AnomalyExpired)
		d.logger.Warn("request timed out waiting for response",
			"client", entry.Client,
			"tag", entry.Tag,
			"age", time.Since(entry.RecordedAt),
		)
	}
	return len(expired)
}

// Run loops until ctx is cancelled and returns ctx.Err()
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wake := d.watch(ctx)

	var sweep <-chan time.Time
	if d.entryTTL > 0 {
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	idle := time.NewTimer(d.pollInterval)
	defer idle.Stop()

	d.logger.Info("dispatcher started",
		"clients", len(d.requests.clients),
		"pollInterval", d.pollInterval,
		"entryTTL", d.entryTTL,
	)

	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("dispatcher stopped", "inFlight", d.table.Len())
			return err
		}

		if !d.Step(ctx).Idle() {
			select {
			case <-sweep:
				d.Sweep()
			default:
			}
			continue
		}

		idle.Reset(d.pollInterval)
		select {
		case <-ctx.Done():
		case <-wake:
		case <-sweep:
			d.Sweep()
		case <-idle.C:
		}
	}
}

// watch merges the readiness signals of every input queue into one channel
func (d *Dispatcher) watch(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	inputs := make([]Queue, 0, len(d.requests.clients)+1)
	inputs = append(inputs, d.requests.clients...)
	inputs = append(inputs, d.responses.server)

	for _, q := range inputs {
		ready := q.Ready()
		if ready == nil {
			continue
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ready:
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	return wake
}
