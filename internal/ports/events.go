package ports

import (
	"context"

	"github.com/aescanero/dago-studio/internal/domain"
)

// EventHandler processes one event. Handlers for a topic are called in
// publish order.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus fans out change events to interested parties
type EventBus interface {
	// Publish sends an event to every subscriber of topic
	Publish(ctx context.Context, topic string, event domain.Event) error

	// Subscribe registers handler until ctx is cancelled
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	// Unsubscribe removes every handler of topic
	Unsubscribe(ctx context.Context, topic string) error

	// Close releases bus resources
	Close() error
}
