package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

// DefaultQueueSize is the per-subscriber buffer
const DefaultQueueSize = 256

type subscription struct {
	id      uint64
	handler ports.EventHandler
	queue   chan domain.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// InMemoryEventBus implements EventBus using in-process handlers. Each
// subscriber drains its own queue on its own goroutine, so a slow handler
// never reorders or blocks another subscriber's events.
type InMemoryEventBus struct {
	subscribers map[string][]*subscription
	seq         uint64
	queueSize   int
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		subscribers: make(map[string][]*subscription),
		queueSize:   DefaultQueueSize,
		logger:      logger,
	}
}

// Publish queues an event for every subscriber of a topic. It blocks while a
// subscriber's queue is full, until ctx is done.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	subs := make([]*subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- event:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler on topic until ctx is cancelled
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.seq++
	sub := &subscription{
		id:      e.seq,
		handler: handler,
		queue:   make(chan domain.Event, e.queueSize),
		done:    make(chan struct{}),
	}
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go e.run(ctx, topic, sub)

	go func() {
		select {
		case <-ctx.Done():
			e.unsubscribe(topic, sub.id)
		case <-sub.done:
		}
	}()

	return nil
}

func (e *InMemoryEventBus) run(ctx context.Context, topic string, sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case event := <-sub.queue:
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Warn("event handler error",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	subs := e.subscribers[topic]
	delete(e.subscribers, topic)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// Close stops every subscription
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	all := e.subscribers
	e.subscribers = make(map[string][]*subscription)
	e.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.stop()
		}
	}
	return nil
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			sub.stop()
			e.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
