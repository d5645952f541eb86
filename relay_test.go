package relay

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/emulator"
	"github.com/glimte/mmate-relay/messaging"
	"github.com/glimte/mmate-relay/monitor"
	"github.com/glimte/mmate-relay/transports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r, err := New()
		require.NoError(t, err)
		defer r.Close()

		assert.Equal(t, DefaultClients, r.Clients())
		assert.NotNil(t, r.ServerInbound())
		assert.NotNil(t, r.ServerOutbound())
		assert.IsType(t, &monitor.RoutingMetricsCollector{}, r.Metrics())
		assert.Equal(t, 0, r.Table().Len())
	})

	t.Run("invalid client count", func(t *testing.T) {
		_, err := New(WithClients(0))
		assert.ErrorIs(t, err, messaging.ErrInvalidClient)
	})

	t.Run("supplied queues", func(t *testing.T) {
		topo, err := (&transports.Factory{Prefix: "t"}).Build(context.Background(), 3)
		require.NoError(t, err)

		r, err := New(WithQueues(topo), WithClients(99))
		require.NoError(t, err)
		assert.Equal(t, 3, r.Clients())
		assert.Same(t, topo, r.Topology())
	})

	t.Run("mismatched queues", func(t *testing.T) {
		topo, err := (&transports.Factory{}).Build(context.Background(), 2)
		require.NoError(t, err)
		topo.ClientOutbound = topo.ClientOutbound[:1]

		_, err = New(WithQueues(topo))
		assert.ErrorIs(t, err, messaging.ErrInvalidClient)
	})
}

func TestRelayStep(t *testing.T) {
	ctx := context.Background()
	tags := messaging.TagGeneratorFunc(func() contracts.Tag { return 42 })

	r, err := New(WithTagGenerator(tags))
	require.NoError(t, err)

	require.NoError(t, r.ClientOutbound(3).Send(ctx, contracts.NewMessage("X")))
	r.Step(ctx)

	request, ok, err := r.ServerInbound().TryReceive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contracts.Message{contracts.FieldBody: "X", contracts.FieldTag: int64(42)}, request)

	response, err := emulator.Processed(ctx, request)
	require.NoError(t, err)
	require.NoError(t, r.ServerOutbound().Send(ctx, response))
	r.Step(ctx)

	for i := 0; i < r.Clients(); i++ {
		msg, ok, err := r.ClientInbound(i).TryReceive(ctx)
		require.NoError(t, err)
		if i == 3 {
			require.True(t, ok)
			assert.Equal(t, contracts.Message{contracts.FieldBody: "X-processed"}, msg)
		} else {
			assert.False(t, ok, "client %d", i)
		}
	}

	summary := r.Metrics().(*monitor.RoutingMetricsCollector).GetMetricsSummary()
	assert.Equal(t, int64(1), summary.Forwarded[3])
	assert.Equal(t, int64(1), summary.Delivered[3])
}

func TestRelayWithEmulators(t *testing.T) {
	const clients, rounds = 10, 10

	metrics := monitor.NewRoutingMetricsCollector()
	r, err := New(
		WithClients(clients),
		WithMetrics(metrics),
		WithPollInterval(time.Millisecond),
	)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := emulator.NewServer(r.ServerInbound(), r.ServerOutbound(),
		emulator.WithDelay(0, 20*time.Millisecond),
		emulator.WithServerPollInterval(time.Millisecond),
	)

	inbound := make([]messaging.Queue, clients)
	outbound := make([]messaging.Queue, clients)
	for i := 0; i < clients; i++ {
		inbound[i] = r.ClientInbound(i)
		outbound[i] = r.ClientOutbound(i)
	}
	pool, err := emulator.NewClientPool(inbound, outbound)
	require.NoError(t, err)

	go server.Run(ctx)
	go r.Run(ctx)

	expected := make([][]string, clients)
	for round := 0; round < rounds; round++ {
		for c := 0; c < clients; c++ {
			msg, err := pool.Send(ctx, c)
			require.NoError(t, err)
			expected[c] = append(expected[c], msg.Body().(string)+"-processed")
		}
	}

	require.Eventually(t, func() bool {
		pool.Drain(ctx)
		total := 0
		for c := 0; c < clients; c++ {
			total += len(pool.Received(c))
		}
		return total == clients*rounds
	}, 10*time.Second, 10*time.Millisecond)

	for c := 0; c < clients; c++ {
		var got []string
		for _, msg := range pool.Received(c) {
			assert.False(t, msg.HasTag())
			got = append(got, msg.Body().(string))
		}
		sort.Strings(got)
		want := append([]string(nil), expected[c]...)
		sort.Strings(want)
		assert.Equal(t, want, got, "client %d", c)
	}

	assert.Equal(t, 0, r.Table().Len())

	summary := metrics.GetMetricsSummary()
	for c := 0; c < clients; c++ {
		assert.Equal(t, int64(rounds), summary.Forwarded[c])
		assert.Equal(t, int64(rounds), summary.Delivered[c])
	}
	assert.Empty(t, summary.Anomalies)
	assert.Zero(t, summary.InFlight)
}
