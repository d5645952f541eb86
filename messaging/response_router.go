package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-relay/contracts"
)

// ResponseRouter drains the server outbound queue and delivers each response
// to the client that originated the matching request
type ResponseRouter struct {
	server  Queue
	clients []Queue
	table   *CorrelationTable
	logger  *slog.Logger
	metrics MetricsCollector
}

// ResponseRouterOption configures the ResponseRouter
type ResponseRouterOption func(*ResponseRouter)

// WithResponseLogger sets the logger
func WithResponseLogger(logger *slog.Logger) ResponseRouterOption {
	return func(r *ResponseRouter) {
		r.logger = logger
	}
}

// WithResponseMetrics sets the metrics collector
func WithResponseMetrics(metrics MetricsCollector) ResponseRouterOption {
	return func(r *ResponseRouter) {
		r.metrics = metrics
	}
}

// NewResponseRouter creates a router delivering to the given client inbound queues
func NewResponseRouter(server Queue, clients []Queue, table *CorrelationTable, options ...ResponseRouterOption) *ResponseRouter {
	r := &ResponseRouter{
		server:  server,
		clients: clients,
		table:   table,
		logger:  slog.Default(),
		metrics: &NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Route handles at most one server response and reports whether one was taken.
// Responses whose tag is missing, malformed or unknown are logged and dropped.
func (r *ResponseRouter) Route(ctx context.Context) (handled bool) {
	defer func() {
		if p := recover(); p != nil {
			handled = true
			r.metrics.RecordAnomaly(AnomalyServerFault)
			r.logger.Error("failed to handle server response",
				"error", &PanicError{Value: p},
			)
		}
	}()

	msg, ok, err := r.server.TryReceive(ctx)
	if err != nil {
		if shuttingDown(ctx, err) {
			return false
		}
		r.metrics.RecordAnomaly(AnomalyServerFault)
		r.logger.Error("failed to receive server response", "error", err)
		return false
	}
	if !ok {
		return false
	}

	r.route(ctx, msg)
	return true
}

func (r *ResponseRouter) route(ctx context.Context, msg contracts.Message) {
	tag, err := msg.Tag()
	if err != nil {
		kind := AnomalyMalformedTag
		if errors.Is(err, contracts.ErrMissingTag) {
			kind = AnomalyMissingTag
		}
		r.metrics.RecordAnomaly(kind)
		r.logger.Warn("dropping server response without a usable tag", "error", err)
		return
	}

	entry, err := r.table.ResolveEntry(tag)
	if err != nil {
		r.metrics.RecordAnomaly(AnomalyUnknownTag)
		r.logger.Warn("received unknown tag from server", "tag", tag)
		return
	}

	if entry.Client >= len(r.clients) {
		r.metrics.RecordAnomaly(AnomalyDelivery)
		r.logger.Error("failed to deliver response",
			"client", entry.Client,
			"tag", tag,
			"error", fmt.Errorf("%w: %d", ErrInvalidClient, entry.Client),
		)
		return
	}

	if err := r.clients[entry.Client].Send(ctx, msg.WithoutTag()); err != nil {
		r.metrics.RecordAnomaly(AnomalyDelivery)
		r.logger.Error("failed to deliver response",
			"client", entry.Client,
			"tag", tag,
			"error", &RoutingError{Op: "deliver response", Client: entry.Client, Tag: tag, Err: err},
		)
		return
	}

	r.metrics.RecordDelivered(entry.Client, time.Since(entry.RecordedAt))
	r.logger.Debug("sending response to client",
		"client", entry.Client,
		"tag", tag,
	)
}
