package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRequestRouter(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards tagged request and records origin", func(t *testing.T) {
		topo := newTestTopology(5)
		table := NewCorrelationTable()
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, table,
			WithTagGenerator(fixedTags(42)),
		)

		require.NoError(t, topo.clientOut[3].Send(ctx, contracts.NewMessage("X")))

		assert.Equal(t, 1, router.Route(ctx))

		forwarded := receive(topo.serverIn)
		require.NotNil(t, forwarded)
		assert.Equal(t, contracts.Message{contracts.FieldBody: "X", contracts.FieldTag: int64(42)}, forwarded)

		client, err := table.Resolve(42)
		require.NoError(t, err)
		assert.Equal(t, 3, client)
	})

	t.Run("does not mutate the client message", func(t *testing.T) {
		topo := newTestTopology(1)
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, NewCorrelationTable())

		original := contracts.NewMessage("X")
		require.NoError(t, topo.clientOut[0].Send(ctx, original))
		router.Route(ctx)

		assert.False(t, original.HasTag())
	})

	t.Run("empty clients are skipped", func(t *testing.T) {
		topo := newTestTopology(3)
		table := NewCorrelationTable()
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, table)

		assert.Equal(t, 0, router.Route(ctx))
		assert.True(t, topo.serverIn.Empty())
		assert.Equal(t, 0, table.Len())
	})

	t.Run("takes at most one request per client per cycle", func(t *testing.T) {
		topo := newTestTopology(2)
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, NewCorrelationTable())

		for i := 0; i < 3; i++ {
			require.NoError(t, topo.clientOut[0].Send(ctx, contracts.NewMessage(i)))
		}
		require.NoError(t, topo.clientOut[1].Send(ctx, contracts.NewMessage("b")))

		assert.Equal(t, 2, router.Route(ctx))
		assert.Equal(t, 2, topo.clientOut[0].Len())
		assert.Equal(t, 2, topo.serverIn.Len())
	})

	t.Run("receive failure is isolated to its client", func(t *testing.T) {
		topo := newTestTopology(3)
		failing := &mockQueue{}
		failing.On("TryReceive", mock.Anything).Return(nil, false, errors.New("queue broken"))

		clients := topo.clientOutQueues()
		clients[1] = failing
		metrics := newRecordingMetrics()
		table := NewCorrelationTable()
		router := NewRequestRouter(clients, topo.serverIn, table, WithRequestMetrics(metrics))

		require.NoError(t, topo.clientOut[0].Send(ctx, contracts.NewMessage("a")))
		require.NoError(t, topo.clientOut[2].Send(ctx, contracts.NewMessage("c")))

		assert.Equal(t, 2, router.Route(ctx))
		assert.Equal(t, 2, table.Len())
		assert.Equal(t, 1, metrics.anomaly(AnomalyClientFault))
		failing.AssertExpectations(t)
	})

	t.Run("cancelled context is not a client fault", func(t *testing.T) {
		topo := newTestTopology(3)
		metrics := newRecordingMetrics()
		table := NewCorrelationTable()
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, table, WithRequestMetrics(metrics))

		require.NoError(t, topo.clientOut[1].Send(ctx, contracts.NewMessage("b")))

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		assert.Zero(t, router.Route(cctx))
		assert.Zero(t, metrics.anomaly(AnomalyClientFault))
		assert.Zero(t, table.Len())
	})

	t.Run("panic is isolated to its client", func(t *testing.T) {
		topo := newTestTopology(3)
		clients := topo.clientOutQueues()
		clients[0] = panicQueue{}
		metrics := newRecordingMetrics()
		router := NewRequestRouter(clients, topo.serverIn, NewCorrelationTable(), WithRequestMetrics(metrics))

		require.NoError(t, topo.clientOut[1].Send(ctx, contracts.NewMessage("b")))
		require.NoError(t, topo.clientOut[2].Send(ctx, contracts.NewMessage("c")))

		assert.NotPanics(t, func() {
			assert.Equal(t, 2, router.Route(ctx))
		})
		assert.Equal(t, 1, metrics.anomaly(AnomalyClientFault))
	})

	t.Run("regenerates a tag that is already in flight", func(t *testing.T) {
		topo := newTestTopology(2)
		table := NewCorrelationTable()
		require.NoError(t, table.Record(1, 0))
		metrics := newRecordingMetrics()
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, table,
			WithTagGenerator(fixedTags(1, 2)),
			WithRequestMetrics(metrics),
		)

		require.NoError(t, topo.clientOut[1].Send(ctx, contracts.NewMessage("b")))
		assert.Equal(t, 1, router.Route(ctx))

		forwarded := receive(topo.serverIn)
		require.NotNil(t, forwarded)
		tag, err := forwarded.Tag()
		require.NoError(t, err)
		assert.Equal(t, contracts.Tag(2), tag)

		original, err := table.Resolve(1)
		require.NoError(t, err)
		assert.Equal(t, 0, original, "existing mapping must not be overwritten")

		client, err := table.Resolve(2)
		require.NoError(t, err)
		assert.Equal(t, 1, client)
		assert.Equal(t, 1, metrics.anomaly(AnomalyDuplicateTag))
	})

	t.Run("rejects request when every attempt collides", func(t *testing.T) {
		topo := newTestTopology(1)
		table := NewCorrelationTable()
		require.NoError(t, table.Record(7, 0))
		metrics := newRecordingMetrics()
		router := NewRequestRouter(topo.clientOutQueues(), topo.serverIn, table,
			WithTagGenerator(fixedTags(7)),
			WithMaxTagAttempts(3),
			WithRequestMetrics(metrics),
		)

		require.NoError(t, topo.clientOut[0].Send(ctx, contracts.NewMessage("a")))
		assert.Equal(t, 0, router.Route(ctx))

		assert.True(t, topo.serverIn.Empty())
		assert.Equal(t, 1, table.Len())
		assert.Equal(t, 3, metrics.anomaly(AnomalyDuplicateTag))
		assert.Equal(t, 1, metrics.anomaly(AnomalyClientFault))
	})

	t.Run("server send failure records nothing", func(t *testing.T) {
		topo := newTestTopology(1)
		server := &mockQueue{}
		server.On("Send", mock.Anything, mock.Anything).Return(contracts.ErrQueueClosed)
		table := NewCorrelationTable()
		router := NewRequestRouter(topo.clientOutQueues(), server, table)

		require.NoError(t, topo.clientOut[0].Send(ctx, contracts.NewMessage("a")))
		assert.Equal(t, 0, router.Route(ctx))
		assert.Equal(t, 0, table.Len())
		server.AssertNumberOfCalls(t, "Send", 1)
	})
}

func TestRoutingError(t *testing.T) {
	t.Run("unwraps the cause", func(t *testing.T) {
		err := &RoutingError{Op: "forward request", Client: 2, Tag: 9, Err: ErrTagSpaceExhausted}

		assert.ErrorIs(t, err, ErrTagSpaceExhausted)
		assert.Contains(t, err.Error(), "client 2")
		assert.Contains(t, err.Error(), "tag 9")
	})

	t.Run("omits unknown client", func(t *testing.T) {
		err := &RoutingError{Op: "deliver response", Client: -1, Err: ErrInvalidClient}
		assert.NotContains(t, err.Error(), "client -1")
	})
}
