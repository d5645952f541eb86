package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/transports/memory"
	"github.com/stretchr/testify/mock"
)

// Mock implementations for testing
type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Send(ctx context.Context, msg contracts.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockQueue) TryReceive(ctx context.Context) (contracts.Message, bool, error) {
	args := m.Called(ctx)
	msg, _ := args.Get(0).(contracts.Message)
	return msg, args.Bool(1), args.Error(2)
}

func (m *mockQueue) Ready() <-chan struct{} {
	return nil
}

type panicQueue struct{}

func (panicQueue) Send(ctx context.Context, msg contracts.Message) error {
	panic("send exploded")
}

func (panicQueue) TryReceive(ctx context.Context) (contracts.Message, bool, error) {
	panic("receive exploded")
}

func (panicQueue) Ready() <-chan struct{} {
	return nil
}

type recordingMetrics struct {
	mu        sync.Mutex
	forwarded map[int]int
	delivered map[int]int
	anomalies map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		forwarded: make(map[int]int),
		delivered: make(map[int]int),
		anomalies: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordForwarded(client int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarded[client]++
}

func (m *recordingMetrics) RecordDelivered(client int, roundTrip time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[client]++
}

func (m *recordingMetrics) RecordAnomaly(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies[kind]++
}

func (m *recordingMetrics) anomaly(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anomalies[kind]
}

// testTopology is the four queue roles backed by memory queues
type testTopology struct {
	serverIn  *memory.Queue
	serverOut *memory.Queue
	clientIn  []*memory.Queue
	clientOut []*memory.Queue
}

func newTestTopology(clients int) *testTopology {
	topo := &testTopology{
		serverIn:  memory.NewQueue("server.in"),
		serverOut: memory.NewQueue("server.out"),
	}
	for i := 0; i < clients; i++ {
		topo.clientIn = append(topo.clientIn, memory.NewQueue("client.in"))
		topo.clientOut = append(topo.clientOut, memory.NewQueue("client.out"))
	}
	return topo
}

func (topo *testTopology) clientInQueues() []Queue {
	return asQueues(topo.clientIn)
}

func (topo *testTopology) clientOutQueues() []Queue {
	return asQueues(topo.clientOut)
}

func asQueues(qs []*memory.Queue) []Queue {
	out := make([]Queue, len(qs))
	for i, q := range qs {
		out[i] = q
	}
	return out
}

func fixedTags(tags ...contracts.Tag) TagGeneratorFunc {
	var mu sync.Mutex
	i := 0
	return func() contracts.Tag {
		mu.Lock()
		defer mu.Unlock()
		tag := tags[i%len(tags)]
		i++
		return tag
	}
}

func receive(q Queue) contracts.Message {
	msg, ok, err := q.TryReceive(context.Background())
	if err != nil || !ok {
		return nil
	}
	return msg
}
