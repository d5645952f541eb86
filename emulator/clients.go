package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/messaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultRate is one generated request per second across the pool
const DefaultRate = rate.Limit(1)

// ReceiveFunc observes a response delivered to a client
type ReceiveFunc func(client int, msg contracts.Message)

// ClientPool emulates N clients. A generator picks a random client for each
// request; a receiver drains every client's inbound queue.
type ClientPool struct {
	inbound      []messaging.Queue
	outbound     []messaging.Queue
	limiter      *rate.Limiter
	pollInterval time.Duration
	logger       *slog.Logger
	onReceive    ReceiveFunc

	mu       sync.Mutex
	sent     []int
	received [][]contracts.Message
}

// ClientOption configures the ClientPool
type ClientOption func(*ClientPool)

// WithRate sets how many requests per second the pool generates
func WithRate(limit rate.Limit, burst int) ClientOption {
	return func(p *ClientPool) {
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(p *ClientPool) {
		p.logger = logger
	}
}

// WithOnReceive registers a callback for every delivered response
func WithOnReceive(fn ReceiveFunc) ClientOption {
	return func(p *ClientPool) {
		p.onReceive = fn
	}
}

// WithReceivePollInterval bounds how long the receiver sleeps between drains
func WithReceivePollInterval(interval time.Duration) ClientOption {
	return func(p *ClientPool) {
		p.pollInterval = interval
	}
}

// NewClientPool creates a pool over matching inbound and outbound queues.
// Client i sends on outbound[i] and receives on inbound[i].
func NewClientPool(inbound, outbound []messaging.Queue, options ...ClientOption) (*ClientPool, error) {
	if len(inbound) == 0 || len(inbound) != len(outbound) {
		return nil, fmt.Errorf("%w: %d inbound and %d outbound queues",
			messaging.ErrInvalidClient, len(inbound), len(outbound))
	}

	p := &ClientPool{
		inbound:      inbound,
		outbound:     outbound,
		limiter:      rate.NewLimiter(DefaultRate, 1),
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
		sent:         make([]int, len(inbound)),
		received:     make([][]contracts.Message, len(inbound)),
	}

	for _, opt := range options {
		opt(p)
	}

	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}

	return p, nil
}

// Size returns the number of clients
func (p *ClientPool) Size() int {
	return len(p.outbound)
}

// NewRequest builds the request body client would send
func NewRequest(client int) contracts.Message {
	id := uuid.NewString()[:8]
	return contracts.NewMessage(fmt.Sprintf("Testing message from client %d, id:#%s", client, id))
}

// Send emits one generated request from client
func (p *ClientPool) Send(ctx context.Context, client int) (contracts.Message, error) {
	if client < 0 || client >= len(p.outbound) {
		return nil, fmt.Errorf("%w: %d", messaging.ErrInvalidClient, client)
	}

	msg := NewRequest(client)
	if err := p.outbound[client].Send(ctx, msg); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sent[client]++
	p.mu.Unlock()

	p.logger.Info("client sent message", "client", client, "body", msg.Body())
	return msg, nil
}

// Drain takes every waiting response from every client and returns how many
// were taken
func (p *ClientPool) Drain(ctx context.Context) int {
	taken := 0
	for i, q := range p.inbound {
		for {
			msg, ok, err := q.TryReceive(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("client failed to receive", "client", i, "error", err)
				}
				break
			}
			if !ok {
				break
			}
			taken++
			p.deliver(i, msg)
		}
	}
	return taken
}

func (p *ClientPool) deliver(client int, msg contracts.Message) {
	p.mu.Lock()
	p.received[client] = append(p.received[client], msg)
	p.mu.Unlock()

	p.logger.Info("client received message", "client", client, "body", msg.Body())

	if p.onReceive != nil {
		p.onReceive(client, msg)
	}
}

// Sent returns how many requests client has sent
func (p *ClientPool) Sent(client int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[client]
}

// Received returns a copy of the responses delivered to client
func (p *ClientPool) Received(client int) []contracts.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]contracts.Message, len(p.received[client]))
	copy(out, p.received[client])
	return out
}

// Run generates and receives until ctx is cancelled
func (p *ClientPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.generate(ctx) })
	g.Go(func() error { return p.receive(ctx) })
	return g.Wait()
}

func (p *ClientPool) generate(ctx context.Context) error {
	for {
		// Wait also fails early when the next slot lies past the deadline
		if err := p.limiter.Wait(ctx); err != nil {
			<-ctx.Done()
			return ctx.Err()
		}

		client := rand.IntN(len(p.outbound))
		if _, err := p.Send(ctx, client); err != nil {
			if errors.Is(err, contracts.ErrQueueClosed) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("client failed to send", "client", client, "error", err)
		}
	}
}

func (p *ClientPool) receive(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.Drain(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
