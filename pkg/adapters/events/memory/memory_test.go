package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-studio/internal/domain"
)

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) handle(ctx context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, e.ID)
	return nil
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestInMemoryEventBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	defer bus.Close()
	ctx := context.Background()

	first, second := &collector{}, &collector{}
	require.NoError(t, bus.Subscribe(ctx, domain.TopicExecutionEvents, first.handle))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicExecutionEvents, second.handle))

	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("e%d", i)
		want = append(want, id)
		require.NoError(t, bus.Publish(ctx, domain.TopicExecutionEvents, domain.Event{ID: id}))
	}
	require.NoError(t, bus.Publish(ctx, domain.TopicConnectionEvents, domain.Event{ID: "other"}))

	for _, c := range []*collector{first, second} {
		c := c
		require.Eventually(t, func() bool { return len(c.get()) == len(want) }, time.Second, time.Millisecond)
		assert.Equal(t, want, c.get())
	}
}

func TestInMemoryEventBus_HandlerErrorsDoNotStopDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	defer bus.Close()
	ctx := context.Background()

	c := &collector{}
	require.NoError(t, bus.Subscribe(ctx, "t", func(ctx context.Context, e domain.Event) error {
		_ = c.handle(ctx, e)
		return errors.New("boom")
	}))

	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "1"}))
	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "2"}))
	require.Eventually(t, func() bool { return len(c.get()) == 2 }, time.Second, time.Millisecond)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	defer bus.Close()

	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		c := &collector{}
		require.NoError(t, bus.Subscribe(ctx, "a", c.handle))
		cancel()

		require.Eventually(t, func() bool {
			bus.mu.RLock()
			defer bus.mu.RUnlock()
			return len(bus.subscribers["a"]) == 0
		}, time.Second, time.Millisecond)

		require.NoError(t, bus.Publish(context.Background(), "a", domain.Event{ID: "late"}))
		time.Sleep(10 * time.Millisecond)
		assert.Empty(t, c.get())
	})

	t.Run("topic", func(t *testing.T) {
		ctx := context.Background()
		c := &collector{}
		require.NoError(t, bus.Subscribe(ctx, "b", c.handle))
		require.NoError(t, bus.Unsubscribe(ctx, "b"))

		require.NoError(t, bus.Publish(ctx, "b", domain.Event{ID: "late"}))
		time.Sleep(10 * time.Millisecond)
		assert.Empty(t, c.get())
	})
}

func TestInMemoryEventBus_PublishHonoursContext(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	bus.queueSize = 1
	defer bus.Close()

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, bus.Subscribe(context.Background(), "slow", func(ctx context.Context, e domain.Event) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = bus.Publish(ctx, "slow", domain.Event{ID: fmt.Sprint(i)})
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
