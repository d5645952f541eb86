// Package redis implements relay queues on Redis lists.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/internal/reliability"
	"github.com/redis/go-redis/v9"
)

// Queue implements messaging.Queue over a Redis list.
// Producers LPUSH and consumers RPOP, giving FIFO order per key.
type Queue struct {
	client redis.Cmdable
	key    string

	mu     sync.RWMutex
	closed bool
}

// NewQueue returns a queue stored under key
func NewQueue(client redis.Cmdable, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Name returns the list key
func (q *Queue) Name() string {
	return q.key
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Send appends msg to the list
func (q *Queue) Send(ctx context.Context, msg contracts.Message) error {
	if q.isClosed() {
		return contracts.ErrQueueClosed
	}

	data, err := contracts.Encode(msg)
	if err != nil {
		return err
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", q.key, err)
	}
	return nil
}

// TryReceive pops the oldest message if the list is not empty
func (q *Queue) TryReceive(ctx context.Context) (contracts.Message, bool, error) {
	if q.isClosed() {
		return nil, false, contracts.ErrQueueClosed
	}

	data, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis rpop %s: %w", q.key, err)
	}

	msg, err := contracts.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("queue %s: %w", q.key, err)
	}
	return msg, true, nil
}

// Ready returns nil; list pushes are not observed
func (q *Queue) Ready() <-chan struct{} {
	return nil
}

// Len returns the number of waiting messages
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close stops the queue. The shared client stays open.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Transport hands out queues sharing one Redis client
type Transport struct {
	client *redis.Client
	logger *slog.Logger
}

// TransportOption configures the transport
type TransportOption func(*transportConfig)

type transportConfig struct {
	options redis.Options
	logger  *slog.Logger
}

// WithPassword sets the Redis password
func WithPassword(password string) TransportOption {
	return func(cfg *transportConfig) {
		cfg.options.Password = password
	}
}

// WithDB selects the Redis database
func WithDB(db int) TransportOption {
	return func(cfg *transportConfig) {
		cfg.options.DB = db
	}
}

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(cfg *transportConfig) {
		cfg.logger = logger
	}
}

// NewTransport connects to addr and verifies the connection
func NewTransport(ctx context.Context, addr string, options ...TransportOption) (*Transport, error) {
	cfg := &transportConfig{
		options: redis.Options{
			Addr:         addr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	client := redis.NewClient(&cfg.options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		err = fmt.Errorf("failed to connect to Redis: %w", err)
		if isAuthError(err) {
			return nil, reliability.Permanent(err)
		}
		return nil, err
	}

	cfg.logger.Info("connected to Redis", "addr", addr, "db", cfg.options.DB)

	return &Transport{client: client, logger: cfg.logger}, nil
}

// isAuthError reports whether the server rejected the credentials
func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "WRONGPASS") || strings.Contains(msg, "NOAUTH")
}

// Queue returns the queue stored under key
func (t *Transport) Queue(key string) *Queue {
	return NewQueue(t.client, key)
}

// Close closes the client
func (t *Transport) Close() error {
	return t.client.Close()
}
