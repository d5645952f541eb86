// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-relay/messaging"
	"github.com/glimte/mmate-relay/monitor"
	"github.com/glimte/mmate-relay/transports"
)

// DefaultClients is the number of client slots when none is configured
const DefaultClients = 10

// Relay provides the main entry point for mmate-relay
type Relay struct {
	topology   *transports.Topology
	table      *messaging.CorrelationTable
	requests   *messaging.RequestRouter
	responses  *messaging.ResponseRouter
	dispatcher *messaging.Dispatcher
	metrics    messaging.MetricsCollector
	logger     *slog.Logger
}

// New creates a relay. Without WithQueues it builds in-memory queues for
// the configured number of clients.
func New(options ...Option) (*Relay, error) {
	cfg := &relayConfig{
		logger:        slog.Default(),
		clients:       DefaultClients,
		entryTTL:      messaging.DefaultEntryTTL,
		sweepInterval: messaging.DefaultSweepInterval,
		pollInterval:  messaging.DefaultPollInterval,
	}

	for _, opt := range options {
		opt(cfg)
	}

	topology := cfg.topology
	if topology == nil {
		factory := &transports.Factory{Backend: transports.BackendMemory, Logger: cfg.logger}
		var err error
		topology, err = factory.Build(context.Background(), cfg.clients)
		if err != nil {
			return nil, fmt.Errorf("failed to create queues: %w", err)
		}
	} else if err := validateTopology(topology); err != nil {
		return nil, err
	}

	if cfg.metrics == nil {
		cfg.metrics = monitor.NewRoutingMetricsCollector()
	}
	if cfg.tags == nil {
		cfg.tags = messaging.NewSequentialTagGenerator()
	}

	table := messaging.NewCorrelationTable()

	requests := messaging.NewRequestRouter(
		topology.ClientOutbound,
		topology.ServerInbound,
		table,
		messaging.WithRequestLogger(cfg.logger),
		messaging.WithRequestMetrics(cfg.metrics),
		messaging.WithTagGenerator(cfg.tags),
	)

	responses := messaging.NewResponseRouter(
		topology.ServerOutbound,
		topology.ClientInbound,
		table,
		messaging.WithResponseLogger(cfg.logger),
		messaging.WithResponseMetrics(cfg.metrics),
	)

	dispatcher := messaging.NewDispatcher(requests, responses,
		messaging.WithDispatcherLogger(cfg.logger),
		messaging.WithDispatcherMetrics(cfg.metrics),
		messaging.WithEntryTTL(cfg.entryTTL),
		messaging.WithSweepInterval(cfg.sweepInterval),
		messaging.WithPollInterval(cfg.pollInterval),
	)

	return &Relay{
		topology:   topology,
		table:      table,
		requests:   requests,
		responses:  responses,
		dispatcher: dispatcher,
		metrics:    cfg.metrics,
		logger:     cfg.logger,
	}, nil
}

func validateTopology(t *transports.Topology) error {
	switch {
	case t.ServerInbound == nil || t.ServerOutbound == nil:
		return fmt.Errorf("topology is missing a server queue")
	case len(t.ClientInbound) == 0:
		return fmt.Errorf("%w: topology has no clients", messaging.ErrInvalidClient)
	case len(t.ClientInbound) != len(t.ClientOutbound):
		return fmt.Errorf("%w: %d inbound and %d outbound client queues",
			messaging.ErrInvalidClient, len(t.ClientInbound), len(t.ClientOutbound))
	}
	for i := range t.ClientInbound {
		if t.ClientInbound[i] == nil || t.ClientOutbound[i] == nil {
			return fmt.Errorf("%w: client %d has a nil queue", messaging.ErrInvalidClient, i)
		}
	}
	return nil
}

// Run relays messages until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	return r.dispatcher.Run(ctx)
}

// Step runs a single dispatch cycle
func (r *Relay) Step(ctx context.Context) messaging.StepResult {
	return r.dispatcher.Step(ctx)
}

// Sweep evicts timed out entries now
func (r *Relay) Sweep() int {
	return r.dispatcher.Sweep()
}

// Table returns the correlation table
func (r *Relay) Table() *messaging.CorrelationTable {
	return r.table
}

// Clients returns the number of client slots
func (r *Relay) Clients() int {
	return len(r.topology.ClientInbound)
}

// ClientInbound returns the queue responses for client i are delivered to
func (r *Relay) ClientInbound(i int) messaging.Queue {
	return r.topology.ClientInbound[i]
}

// ClientOutbound returns the queue client i sends requests on
func (r *Relay) ClientOutbound(i int) messaging.Queue {
	return r.topology.ClientOutbound[i]
}

// ServerInbound returns the queue requests are forwarded to
func (r *Relay) ServerInbound() messaging.Queue {
	return r.topology.ServerInbound
}

// ServerOutbound returns the queue the server emits responses on
func (r *Relay) ServerOutbound() messaging.Queue {
	return r.topology.ServerOutbound
}

// Topology returns all queues
func (r *Relay) Topology() *transports.Topology {
	return r.topology
}

// Metrics returns the metrics collector
func (r *Relay) Metrics() messaging.MetricsCollector {
	return r.metrics
}

// Close releases the queue backends
func (r *Relay) Close() error {
	if n := r.table.Len(); n > 0 {
		r.logger.Warn("closing relay with requests in flight", "inFlight", n)
	}
	return r.topology.Close()
}

// relayConfig holds relay configuration
type relayConfig struct {
	logger        *slog.Logger
	clients       int
	tags          messaging.TagGenerator
	entryTTL      time.Duration
	sweepInterval time.Duration
	pollInterval  time.Duration
	metrics       messaging.MetricsCollector
	topology      *transports.Topology
}

// Option configures the relay
type Option func(*relayConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *relayConfig) {
		cfg.logger = logger
	}
}

// WithClients sets the number of in-memory client slots.
// Ignored when WithQueues supplies the topology.
func WithClients(n int) Option {
	return func(cfg *relayConfig) {
		cfg.clients = n
	}
}

// WithTagGenerator sets the tag source
func WithTagGenerator(tags messaging.TagGenerator) Option {
	return func(cfg *relayConfig) {
		cfg.tags = tags
	}
}

// WithEntryTTL sets how long a request may wait for its response
func WithEntryTTL(ttl time.Duration) Option {
	return func(cfg *relayConfig) {
		cfg.entryTTL = ttl
	}
}

// WithSweepInterval sets how often timed out entries are evicted
func WithSweepInterval(interval time.Duration) Option {
	return func(cfg *relayConfig) {
		cfg.sweepInterval = interval
	}
}

// WithPollInterval bounds how long an idle relay waits before polling
func WithPollInterval(interval time.Duration) Option {
	return func(cfg *relayConfig) {
		cfg.pollInterval = interval
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics messaging.MetricsCollector) Option {
	return func(cfg *relayConfig) {
		cfg.metrics = metrics
	}
}

// WithQueues supplies prebuilt queues, e.g. from transports.Factory
func WithQueues(topology *transports.Topology) Option {
	return func(cfg *relayConfig) {
		cfg.topology = topology
	}
}
