package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
)

// MockSender is a mock implementation of transport.BatchSender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendBatch(ctx context.Context, events []*event.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// countingSender records delivered batches.
type countingSender struct {
	mu      sync.Mutex
	batches [][]*event.Event
	err     error
}

func (s *countingSender) SendBatch(ctx context.Context, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	batch := make([]*event.Event, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *countingSender) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func testEvent(t *testing.T, n int) *event.Event {
	t.Helper()
	e, err := event.New(fmt.Sprintf("event_%d", n), "user_1", nil)
	require.NoError(t, err)
	return e
}

func testConfig() Config {
	return Config{
		BatchSize:     3,
		MaxQueueSize:  10,
		FlushInterval: 10 * time.Second,
	}
}

func TestQueue_FlushOnBatchThreshold(t *testing.T) {
	sender := &countingSender{}
	q := New(sender, storage.NewMemoryStore(), testConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	q.Enqueue(testEvent(t, 1))
	q.Enqueue(testEvent(t, 2))
	assert.Equal(t, 0, sender.batchCount())

	q.Enqueue(testEvent(t, 3))
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, sender.batchCount())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FlushOnTimer(t *testing.T) {
	sender := &countingSender{}
	cfg := testConfig()
	cfg.FlushInterval = 50 * time.Millisecond
	q := New(sender, storage.NewMemoryStore(), cfg, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	q.Enqueue(testEvent(t, 1))
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, 1, sender.batchCount())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FlushOnReachabilityRestored(t *testing.T) {
	sender := &countingSender{}
	reachable := make(chan struct{}, 1)
	q := New(sender, storage.NewMemoryStore(), testConfig(), reachable, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	q.Enqueue(testEvent(t, 1))
	assert.Equal(t, 0, sender.batchCount())

	reachable <- struct{}{}
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, sender.batchCount())
}

func TestQueue_FailedBatchStaysQueued(t *testing.T) {
	mockSender := new(MockSender)
	q := New(mockSender, storage.NewMemoryStore(), testConfig(), nil, zap.NewNop())

	mockSender.On("SendBatch", mock.Anything, mock.MatchedBy(func(events []*event.Event) bool {
		return len(events) == 3
	})).Return(assert.AnError).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	q.Enqueue(testEvent(t, 1))
	q.Enqueue(testEvent(t, 2))
	q.Enqueue(testEvent(t, 3))
	time.Sleep(100 * time.Millisecond)

	// Delivery failed, nothing was removed.
	assert.Equal(t, 3, q.Len())

	// The retry delivers the same events.
	mockSender.On("SendBatch", mock.Anything, mock.MatchedBy(func(events []*event.Event) bool {
		return len(events) == 3 && events[0].Name == "event_1"
	})).Return(nil).Once()

	q.RequestFlush()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, q.Len())
	mockSender.AssertExpectations(t)
}

func TestQueue_BatchesAreFIFOAndBounded(t *testing.T) {
	sender := &countingSender{}
	cfg := Config{BatchSize: 2, MaxQueueSize: 10, FlushInterval: 10 * time.Second}
	q := New(sender, storage.NewMemoryStore(), cfg, nil, zap.NewNop())

	for i := 1; i <= 5; i++ {
		q.Enqueue(testEvent(t, i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	require.Eventually(t, func() bool {
		q.RequestFlush()
		return q.Len() == 0
	}, time.Second, 20*time.Millisecond)

	// 5 events drain as 2+2+1, oldest first.
	require.Equal(t, 3, sender.batchCount())
	assert.Equal(t, "event_1", sender.batches[0][0].Name)
	assert.Equal(t, "event_2", sender.batches[0][1].Name)
	assert.Equal(t, "event_5", sender.batches[2][0].Name)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EvictsOldestPastMaxSize(t *testing.T) {
	sender := &countingSender{}
	cfg := Config{BatchSize: 100, MaxQueueSize: 3, FlushInterval: 10 * time.Second}
	q := New(sender, storage.NewMemoryStore(), cfg, nil, zap.NewNop())

	for i := 1; i <= 5; i++ {
		q.Enqueue(testEvent(t, i))
	}

	assert.Equal(t, 3, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)
	q.RequestFlush()
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 1, sender.batchCount())
	assert.Equal(t, "event_3", sender.batches[0][0].Name)
	assert.Equal(t, "event_5", sender.batches[0][2].Name)
}

func TestQueue_PersistsAndRestores(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &countingSender{err: assert.AnError}
	q := New(sender, store, testConfig(), nil, zap.NewNop())

	q.Enqueue(testEvent(t, 1))
	q.Enqueue(testEvent(t, 2))

	// A new queue over the same store picks the events back up.
	restored := New(&countingSender{}, store, testConfig(), nil, zap.NewNop())
	assert.Equal(t, 2, restored.Len())
}

func TestQueue_FinalFlushOnShutdown(t *testing.T) {
	sender := &countingSender{}
	q := New(sender, storage.NewMemoryStore(), testConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go q.Start(ctx)

	q.Enqueue(testEvent(t, 1))
	cancel()
	q.Wait()

	assert.Equal(t, 1, sender.batchCount())
}
