package transports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/internal/reliability"
	"github.com/glimte/mmate-relay/messaging"
	"github.com/glimte/mmate-relay/transports/memory"
	"github.com/glimte/mmate-relay/transports/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryFunc func(attempt int, err error) (bool, time.Duration)

func (f retryFunc) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	return f(attempt, err)
}

func countingRetry(calls *int, max int) reliability.RetryPolicy {
	return retryFunc(func(attempt int, err error) (bool, time.Duration) {
		*calls++
		return attempt < max, time.Millisecond
	})
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	t.Run("memory topology", func(t *testing.T) {
		f := &Factory{Backend: BackendMemory, Prefix: "relay"}

		topo, err := f.Build(ctx, 3)
		require.NoError(t, err)
		defer topo.Close()

		assert.Len(t, topo.ClientInbound, 3)
		assert.Len(t, topo.ClientOutbound, 3)

		in, ok := topo.ServerInbound.(*memory.Queue)
		require.True(t, ok)
		assert.Equal(t, "relay.server.in", in.Name())
		assert.Equal(t, "relay.client.2.out", topo.ClientOutbound[2].(*memory.Queue).Name())
	})

	t.Run("empty backend defaults to memory", func(t *testing.T) {
		f := &Factory{}

		topo, err := f.Build(ctx, 1)
		require.NoError(t, err)
		assert.IsType(t, &memory.Queue{}, topo.ServerOutbound)
		assert.Equal(t, "server.out", topo.ServerOutbound.(*memory.Queue).Name())
	})

	t.Run("redis topology", func(t *testing.T) {
		srv := miniredis.RunT(t)
		f := &Factory{Backend: BackendRedis, Prefix: "relay", RedisAddr: srv.Addr()}

		topo, err := f.Build(ctx, 2)
		require.NoError(t, err)
		defer topo.Close()

		q, ok := topo.ClientOutbound[1].(*redis.Queue)
		require.True(t, ok)
		assert.Equal(t, "relay.client.1.out", q.Name())

		require.NoError(t, q.Send(ctx, contracts.NewMessage("hello")))
		assert.True(t, srv.Exists("relay.client.1.out"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		srv := miniredis.RunT(t)
		addr := srv.Addr()
		srv.Close()

		attempts := 0
		f := &Factory{Backend: BackendRedis, RedisAddr: addr, Retry: countingRetry(&attempts, 2)}
		_, err := f.Build(ctx, 1)
		assert.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("redis with credentials", func(t *testing.T) {
		srv := miniredis.RunT(t)
		srv.RequireAuth("s3cret")

		f := &Factory{Backend: BackendRedis, Prefix: "relay", RedisAddr: srv.Addr(), RedisPassword: "s3cret", RedisDB: 2}
		topo, err := f.Build(ctx, 1)
		require.NoError(t, err)
		defer topo.Close()

		require.NoError(t, topo.ServerInbound.Send(ctx, contracts.NewMessage("hello")))
		srv.Select(2)
		assert.True(t, srv.Exists("relay.server.in"))
	})

	t.Run("redis rejects credentials without retrying", func(t *testing.T) {
		srv := miniredis.RunT(t)
		srv.RequireAuth("s3cret")

		attempts := 0
		f := &Factory{Backend: BackendRedis, RedisAddr: srv.Addr(), RedisPassword: "wrong", Retry: countingRetry(&attempts, 5)}
		_, err := f.Build(ctx, 1)
		assert.Error(t, err)
		assert.Zero(t, attempts)
	})

	t.Run("malformed AMQP URL is not retried", func(t *testing.T) {
		attempts := 0
		f := &Factory{Backend: BackendRabbitMQ, AMQPURL: "invalid://url", Retry: countingRetry(&attempts, 5)}
		_, err := f.Build(ctx, 1)
		assert.Error(t, err)
		assert.Zero(t, attempts)
	})

	t.Run("unknown backend", func(t *testing.T) {
		f := &Factory{Backend: "carrier-pigeon"}
		_, err := f.Build(ctx, 1)
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("no clients", func(t *testing.T) {
		f := &Factory{}
		_, err := f.Build(ctx, 0)
		assert.ErrorIs(t, err, messaging.ErrInvalidClient)
	})
}
