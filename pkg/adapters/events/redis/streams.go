package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

// StreamsEventBus implements EventBus using Redis Streams
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64
	block         time.Duration

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamsEventBus creates a new Redis Streams event bus. Streams are
// trimmed to roughly maxLen entries; zero disables trimming.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, maxLen int64, logger *zap.Logger) (*StreamsEventBus, error) {
	if consumerGroup == "" || consumerName == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        maxLen,
		block:         time.Second,
		cancels:       make(map[string][]context.CancelFunc),
	}, nil
}

// Publish appends an event to the topic's stream
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe starts a consumer for topic that runs until ctx is cancelled,
// Unsubscribe is called for the topic or the bus is closed
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[topic] = append(e.cancels[topic], cancel)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.readStream(readCtx, streamKey, handler)
	}()

	return nil
}

// readStream reads events from a stream until ctx is done
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    e.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

// processMessage hands one stream entry to handler and acknowledges it on
// success. Failed entries stay pending in the group.
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := e.client.XAck(ctx, streamKey, e.consumerGroup, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops every consumer of topic. The consumer group is left in
// place so a later Subscribe resumes where it stopped.
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	cancels := e.cancels[topic]
	delete(e.cancels, topic)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// Close stops every consumer and waits for them to exit. The Redis client is
// owned by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	all := e.cancels
	e.cancels = make(map[string][]context.CancelFunc)
	e.mu.Unlock()

	for _, cancels := range all {
		for _, cancel := range cancels {
			cancel()
		}
	}
	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("dago-studio:events:%s", topic)
}
