package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/glimte/mmate-relay/contracts"
)

// DefaultMaxTagAttempts bounds tag regeneration when a tag is already in flight
const DefaultMaxTagAttempts = 8

// RequestRouter drains client outbound queues, stamps each request with a tag
// and forwards it to the server, recording which client it came from
type RequestRouter struct {
	clients        []Queue
	server         Queue
	table          *CorrelationTable
	tags           TagGenerator
	logger         *slog.Logger
	metrics        MetricsCollector
	maxTagAttempts int
}

// RequestRouterOption configures the RequestRouter
type RequestRouterOption func(*RequestRouter)

// WithRequestLogger sets the logger
func WithRequestLogger(logger *slog.Logger) RequestRouterOption {
	return func(r *RequestRouter) {
		r.logger = logger
	}
}

// WithRequestMetrics sets the metrics collector
func WithRequestMetrics(metrics MetricsCollector) RequestRouterOption {
	return func(r *RequestRouter) {
		r.metrics = metrics
	}
}

// WithTagGenerator sets the tag generator
func WithTagGenerator(tags TagGenerator) RequestRouterOption {
	return func(r *RequestRouter) {
		r.tags = tags
	}
}

// WithMaxTagAttempts sets how many tags are tried before a request is rejected
func WithMaxTagAttempts(attempts int) RequestRouterOption {
	return func(r *RequestRouter) {
		r.maxTagAttempts = attempts
	}
}

// NewRequestRouter creates a router over the given client outbound queues.
// Client indexes are positions in clients.
func NewRequestRouter(clients []Queue, server Queue, table *CorrelationTable, options ...RequestRouterOption) *RequestRouter {
	r := &RequestRouter{
		clients:        clients,
		server:         server,
		table:          table,
		tags:           NewSequentialTagGenerator(),
		logger:         slog.Default(),
		metrics:        &NoOpMetricsCollector{},
		maxTagAttempts: DefaultMaxTagAttempts,
	}

	for _, opt := range options {
		opt(r)
	}

	if r.maxTagAttempts < 1 {
		r.maxTagAttempts = 1
	}

	return r
}

// Route takes at most one pending request from every client, in index order,
// and forwards it. A failure for one client is logged and does not affect the
// others. It returns the number of requests forwarded.
func (r *RequestRouter) Route(ctx context.Context) int {
	forwarded := 0
	for client := range r.clients {
		ok, err := r.routeClient(ctx, client)
		if err != nil {
			if shuttingDown(ctx, err) {
				return forwarded
			}
			r.metrics.RecordAnomaly(AnomalyClientFault)
			r.logger.Error("failed to handle client request",
				"client", client,
				"error", err,
			)
			continue
		}
		if ok {
			forwarded++
		}
	}
	return forwarded
}

// shuttingDown reports whether err only reflects ctx being done
func shuttingDown(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func (r *RequestRouter) routeClient(ctx context.Context, client int) (forwarded bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			forwarded = false
			err = &RoutingError{Op: "route request", Client: client, Err: &PanicError{Value: p}}
		}
	}()

	msg, ok, err := r.clients[client].TryReceive(ctx)
	if err != nil {
		return false, &RoutingError{Op: "receive request", Client: client, Err: err}
	}
	if !ok {
		return false, nil
	}

	tag, err := r.forward(ctx, client, msg)
	if err != nil {
		return false, &RoutingError{Op: "forward request", Client: client, Tag: tag, Err: err}
	}

	r.metrics.RecordForwarded(client)
	r.logger.Debug("got message from client",
		"client", client,
		"tag", tag,
	)
	return true, nil
}

// forward stamps msg with a fresh tag and sends it to the server, regenerating
// the tag while it collides with one already in flight
func (r *RequestRouter) forward(ctx context.Context, client int, msg contracts.Message) (contracts.Tag, error) {
	var tag contracts.Tag
	for attempt := 1; attempt <= r.maxTagAttempts; attempt++ {
		tag = r.tags.NextTag()
		tagged := msg.WithTag(tag)

		err := r.table.RecordForwarded(tag, client, func() error {
			return r.server.Send(ctx, tagged)
		})
		if err == nil {
			return tag, nil
		}
		if !errors.Is(err, ErrDuplicateTag) {
			return tag, err
		}

		r.metrics.RecordAnomaly(AnomalyDuplicateTag)
		r.logger.Warn("generated tag already in flight",
			"client", client,
			"tag", tag,
			"attempt", attempt,
		)
	}
	return tag, ErrTagSpaceExhausted
}
