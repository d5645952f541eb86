package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/internal/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by Queue
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// ChannelOpener opens a fresh channel
type ChannelOpener func() (Channel, error)

// Queue implements messaging.Queue over a single AMQP queue.
// Sends publish to the default exchange with the queue name as routing key.
// Receives use basic.get with auto-ack, so an empty queue returns at once.
// A channel that fails is discarded and reopened on the next call.
type Queue struct {
	name    string
	open    ChannelOpener
	logger  *slog.Logger
	durable bool

	mu     sync.Mutex
	ch     Channel
	closed bool
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithQueueLogger sets the logger
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithDurable declares the queue as durable
func WithDurable(durable bool) QueueOption {
	return func(q *Queue) {
		q.durable = durable
	}
}

// NewQueue opens a channel and declares the queue
func NewQueue(name string, open ChannelOpener, options ...QueueOption) (*Queue, error) {
	q := &Queue{
		name:   name,
		open:   open,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(q)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.channel(); err != nil {
		return nil, err
	}
	return q, nil
}

// Name returns the AMQP queue name
func (q *Queue) Name() string {
	return q.name
}

// channel returns the open channel, reopening and redeclaring if needed.
// Must be called with mu held.
func (q *Queue) channel() (Channel, error) {
	if q.ch != nil {
		return q.ch, nil
	}

	ch, err := q.open()
	if err != nil {
		return nil, &rabbitmq.ChannelError{Op: "open", Queue: q.name, Err: err, Timestamp: time.Now()}
	}

	if _, err := ch.QueueDeclare(q.name, q.durable, !q.durable, false, false, nil); err != nil {
		ch.Close()
		return nil, &rabbitmq.ChannelError{Op: "declare", Queue: q.name, Err: err, Timestamp: time.Now()}
	}

	q.ch = ch
	return ch, nil
}

// discard drops a failed channel. Must be called with mu held.
func (q *Queue) discard() {
	if q.ch == nil {
		return
	}
	if err := q.ch.Close(); err != nil {
		q.logger.Debug("failed to close channel", "queue", q.name, "error", err)
	}
	q.ch = nil
}

// Send publishes msg to the queue
func (q *Queue) Send(ctx context.Context, msg contracts.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := contracts.Encode(msg)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return contracts.ErrQueueClosed
	}

	ch, err := q.channel()
	if err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	}
	if q.durable {
		publishing.DeliveryMode = amqp.Persistent
	}

	if err := ch.PublishWithContext(ctx, "", q.name, false, false, publishing); err != nil {
		q.discard()
		return &rabbitmq.ChannelError{Op: "publish", Queue: q.name, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// TryReceive takes the next message if one is waiting
func (q *Queue) TryReceive(ctx context.Context) (contracts.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, contracts.ErrQueueClosed
	}

	ch, err := q.channel()
	if err != nil {
		return nil, false, err
	}

	delivery, ok, err := ch.Get(q.name, true)
	if err != nil {
		q.discard()
		return nil, false, &rabbitmq.ChannelError{Op: "get", Queue: q.name, Err: err, Timestamp: time.Now()}
	}
	if !ok {
		return nil, false, nil
	}

	msg, err := contracts.Decode(delivery.Body)
	if err != nil {
		return nil, false, fmt.Errorf("queue %s: message %s: %w", q.name, delivery.MessageId, err)
	}
	return msg, true, nil
}

// Ready returns nil; basic.get has no arrival notification
func (q *Queue) Ready() <-chan struct{} {
	return nil
}

// Close closes the channel. Further calls return contracts.ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if q.ch == nil {
		return nil
	}
	err := q.ch.Close()
	q.ch = nil
	return err
}
