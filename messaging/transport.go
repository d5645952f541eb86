package messaging

import (
	"context"

	"github.com/glimte/mmate-relay/contracts"
)

// Queue is a FIFO transport between two endpoints
type Queue interface {
	// Send enqueues a message. Queues are unbounded, so Send does not wait
	// for a consumer.
	Send(ctx context.Context, msg contracts.Message) error

	// TryReceive dequeues the oldest message without blocking.
	// ok is false when the queue is empty.
	TryReceive(ctx context.Context) (msg contracts.Message, ok bool, err error)

	// Ready returns a channel that is signalled after Send, or nil when the
	// queue cannot signal arrivals and must be polled
	Ready() <-chan struct{}
}
