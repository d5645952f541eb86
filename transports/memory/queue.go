// Package memory provides an unbounded in-process FIFO queue.
package memory

import (
	"context"
	"sync"

	"github.com/glimte/mmate-relay/contracts"
)

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
// Ready is signalled after every Send; the signal channel holds at most one
// pending notification, so a single consumer never misses an arrival.
type Queue struct {
	name   string
	mu     sync.Mutex
	items  []contracts.Message
	ready  chan struct{}
	closed bool
}

// NewQueue creates an empty queue
func NewQueue(name string) *Queue {
	return &Queue{
		name:  name,
		ready: make(chan struct{}, 1),
	}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Send appends msg to the queue
func (q *Queue) Send(ctx context.Context, msg contracts.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return contracts.ErrQueueClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// TryReceive removes and returns the oldest message without blocking.
// A closed queue keeps handing out what it holds and then returns ErrQueueClosed.
func (q *Queue) TryReceive(ctx context.Context) (contracts.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			return nil, false, contracts.ErrQueueClosed
		}
		return nil, false, nil
	}

	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return msg, true, nil
}

// Ready returns the arrival signal channel
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no messages
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Close stops the queue from accepting messages
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
