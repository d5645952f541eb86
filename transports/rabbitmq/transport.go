package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-relay/internal/rabbitmq"
	"github.com/glimte/mmate-relay/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Transport hands out AMQP queues sharing one managed connection
type Transport struct {
	manager *rabbitmq.ConnectionManager
	logger  *slog.Logger
	durable bool

	mu     sync.Mutex
	queues []*Queue
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	Logger            *slog.Logger
	Durable           bool
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithTransportLogger sets the logger for the transport and its queues
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithDurableQueues declares durable queues with persistent messages
func WithDurableQueues(durable bool) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Durable = durable
	}
}

// NewTransport connects to the broker. A malformed connection string is
// reported as a permanent error.
func NewTransport(ctx context.Context, connectionString string, options ...TransportOption) (*Transport, error) {
	if _, err := amqp.ParseURI(connectionString); err != nil {
		return nil, reliability.Permanent(fmt.Errorf("invalid AMQP URL %s: %w", rabbitmq.SanitizeURL(connectionString), err))
	}

	cfg := &TransportConfig{
		Logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(connectionString, connOpts...)

	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Transport{
		manager: manager,
		logger:  cfg.Logger,
		durable: cfg.Durable,
	}, nil
}

// Queue declares name and returns a queue bound to it
func (t *Transport) Queue(name string) (*Queue, error) {
	q, err := NewQueue(name, t.openChannel,
		WithQueueLogger(t.logger),
		WithDurable(t.durable),
	)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.queues = append(t.queues, q)
	t.mu.Unlock()

	return q, nil
}

func (t *Transport) openChannel() (Channel, error) {
	ch, err := t.manager.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Close closes every queue and the connection
func (t *Transport) Close() error {
	t.mu.Lock()
	queues := t.queues
	t.queues = nil
	t.mu.Unlock()

	var errs []error
	for _, q := range queues {
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
