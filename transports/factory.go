// Package transports builds the relay's queue topology on a chosen backend.
package transports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/glimte/mmate-relay/internal/reliability"
	"github.com/glimte/mmate-relay/messaging"
	"github.com/glimte/mmate-relay/transports/memory"
	"github.com/glimte/mmate-relay/transports/rabbitmq"
	"github.com/glimte/mmate-relay/transports/redis"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendRabbitMQ = "rabbitmq"
	BackendRedis    = "redis"
)

// ErrUnknownBackend is returned for an unsupported backend name
var ErrUnknownBackend = errors.New("unknown transport backend")

// Topology is the set of queues the relay sits between
type Topology struct {
	ServerInbound  messaging.Queue   // Relay to server
	ServerOutbound messaging.Queue   // Server to relay
	ClientInbound  []messaging.Queue // Relay to client i
	ClientOutbound []messaging.Queue // Client i to relay

	closers []io.Closer
}

// Close releases the backend connections
func (t *Topology) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}

// Factory creates topologies for a backend
type Factory struct {
	Backend       string
	Prefix        string
	AMQPURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Logger        *slog.Logger

	// Retry governs broker connection attempts; nil uses DefaultConnectRetry
	Retry reliability.RetryPolicy
}

// DefaultConnectRetry retries a broker connection three times
var DefaultConnectRetry reliability.RetryPolicy = reliability.NewExponentialBackoff(
	200*time.Millisecond, 2*time.Second, 2.0, 3)

// connect runs dial under the retry policy. Permanent dial errors, such as
// rejected credentials or a malformed URL, fail on the first attempt.
func (f *Factory) connect(ctx context.Context, logger *slog.Logger, dial func() error) error {
	policy := f.Retry
	if policy == nil {
		policy = DefaultConnectRetry
	}

	attempt := 0
	return reliability.Retry(ctx, policy, func() error {
		attempt++
		err := dial()
		if err != nil {
			logger.Warn("broker connection failed",
				"backend", f.Backend,
				"attempt", attempt,
				"error", err)
		}
		return err
	})
}

// QueueName returns the name of a queue role under the factory prefix
func (f *Factory) QueueName(role string) string {
	if f.Prefix == "" {
		return role
	}
	return f.Prefix + "." + role
}

// Build creates the server queues and the per-client queues for clients clients
func (f *Factory) Build(ctx context.Context, clients int) (*Topology, error) {
	if clients <= 0 {
		return nil, fmt.Errorf("%w: %d", messaging.ErrInvalidClient, clients)
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		topo *Topology
		err  error
	)
	switch f.Backend {
	case BackendMemory, "":
		topo, err = f.build(clients, func(name string) (messaging.Queue, error) {
			return memory.NewQueue(name), nil
		})

	case BackendRabbitMQ:
		var transport *rabbitmq.Transport
		err = f.connect(ctx, logger, func() (err error) {
			transport, err = rabbitmq.NewTransport(ctx, f.AMQPURL, rabbitmq.WithTransportLogger(logger))
			return err
		})
		if err != nil {
			return nil, err
		}
		topo, err = f.build(clients, func(name string) (messaging.Queue, error) {
			return transport.Queue(name)
		})
		if err != nil {
			transport.Close()
			return nil, err
		}
		topo.closers = append(topo.closers, transport)

	case BackendRedis:
		var transport *redis.Transport
		err = f.connect(ctx, logger, func() (err error) {
			transport, err = redis.NewTransport(ctx, f.RedisAddr,
				redis.WithPassword(f.RedisPassword),
				redis.WithDB(f.RedisDB),
				redis.WithTransportLogger(logger))
			return err
		})
		if err != nil {
			return nil, err
		}
		topo, err = f.build(clients, func(name string) (messaging.Queue, error) {
			return transport.Queue(name), nil
		})
		if err != nil {
			transport.Close()
			return nil, err
		}
		topo.closers = append(topo.closers, transport)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, f.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("queue topology ready",
		"backend", f.Backend,
		"clients", clients,
		"serverInbound", f.QueueName("server.in"),
		"serverOutbound", f.QueueName("server.out"),
	)
	return topo, nil
}

func (f *Factory) build(clients int, newQueue func(name string) (messaging.Queue, error)) (*Topology, error) {
	topo := &Topology{}

	var err error
	if topo.ServerInbound, err = newQueue(f.QueueName("server.in")); err != nil {
		return nil, err
	}
	if topo.ServerOutbound, err = newQueue(f.QueueName("server.out")); err != nil {
		return nil, err
	}

	for i := 0; i < clients; i++ {
		in, err := newQueue(f.QueueName(fmt.Sprintf("client.%d.in", i)))
		if err != nil {
			return nil, err
		}
		out, err := newQueue(f.QueueName(fmt.Sprintf("client.%d.out", i)))
		if err != nil {
			return nil, err
		}
		topo.ClientInbound = append(topo.ClientInbound, in)
		topo.ClientOutbound = append(topo.ClientOutbound, out)
	}

	return topo, nil
}
