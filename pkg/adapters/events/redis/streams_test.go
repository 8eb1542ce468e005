package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
)

func newTestBus(t *testing.T) (*StreamsEventBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewStreamsEventBus(client, "studio", "studio-1", 100, zap.NewNop())
	require.NoError(t, err)
	bus.block = 20 * time.Millisecond
	t.Cleanup(func() { _ = bus.Close() })
	return bus, client
}

func TestNewStreamsEventBus_RequiresNames(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "c", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestStreamsEventBus_PublishSubscribe(t *testing.T) {
	bus, client := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []domain.Event
	require.NoError(t, bus.Subscribe(ctx, domain.TopicExecutionEvents, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}))

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, bus.Publish(ctx, domain.TopicExecutionEvents, domain.Event{
			ID:          id,
			Type:        domain.EventTypeNodeResult,
			ExecutionID: "run-1",
			NodeID:      "n1",
			Data:        map[string]any{"status": "completed"},
		}))
	}

	n, err := client.XLen(ctx, "dago-studio:events:execution.events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.EventTypeNodeResult, got[0].Type)
	assert.Equal(t, "completed", got[0].Data["status"])
}

func TestStreamsEventBus_FailedHandlerLeavesEntryPending(t *testing.T) {
	bus, client := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("boom")
	}))
	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "e1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)

	pending, err := client.XPending(ctx, "dago-studio:events:t", "studio").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestStreamsEventBus_UnsubscribeStopsConsumer(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}))
	require.NoError(t, bus.Unsubscribe(ctx, "t"))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "e1"}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestStreamsEventBus_ResubscribeResumesGroup(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	noop := func(context.Context, domain.Event) error { return nil }
	require.NoError(t, bus.Subscribe(ctx, "t", noop))
	require.NoError(t, bus.Unsubscribe(ctx, "t"))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "while-away"}))

	received := make(chan string, 1)
	require.NoError(t, bus.Subscribe(ctx, "t", func(_ context.Context, e domain.Event) error {
		received <- e.ID
		return nil
	}))

	select {
	case id := <-received:
		assert.Equal(t, "while-away", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event published while unsubscribed was not delivered")
	}
}
