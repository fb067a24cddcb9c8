package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"p2p-queue/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return args.Get(0).(*redis.IntCmd)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Notify(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) received() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func sampleEvent() domain.Event {
	item := domain.QueueItem{
		ID:         uuid.New(),
		Side:       domain.SideWithdrawal,
		CustomerID: "cust-1",
		Amount:     decimal.NewFromInt(500),
	}
	return domain.ItemEvent(domain.EventItemQueued, &item)
}

func TestRedisNotifierPublishesJSON(t *testing.T) {
	pub := new(mockPublisher)
	event := sampleEvent()

	pub.On("Publish", mock.Anything, "queue.events", mock.MatchedBy(func(payload []byte) bool {
		var decoded domain.Event
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return false
		}
		return decoded.Type == domain.EventItemQueued && *decoded.ItemID == *event.ItemID
	})).Return(redis.NewIntResult(1, nil))

	n := NewRedisNotifier(pub, "queue.events", testLogger)
	require.NoError(t, n.Notify(context.Background(), event))
	pub.AssertExpectations(t)
}

func TestRedisNotifierReturnsPublishError(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, "queue.events", mock.Anything).
		Return(redis.NewIntResult(0, errors.New("connection refused")))

	n := NewRedisNotifier(pub, "queue.events", testLogger)
	err := n.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDispatcherDeliversAndFlushesOnStop(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 16, testLogger)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), sampleEvent()))
	}
	d.Stop()

	assert.Len(t, sink.received(), 5)
}

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("bot offline")}
	d := NewDispatcher(sink, 4, testLogger)

	assert.NoError(t, d.Notify(context.Background(), sampleEvent()))
	d.Stop()

	assert.Len(t, sink.received(), 1)
}

func TestDispatcherDropsAfterStop(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4, testLogger)
	d.Stop()

	assert.NoError(t, d.Notify(context.Background(), sampleEvent()))
	assert.Empty(t, sink.received())
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}

	err := Fanout{ok, failing}.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Len(t, ok.received(), 1)
	assert.Len(t, failing.received(), 1)
}
