package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/batch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ ports.EventPublisher = (*EventBus)(nil)

// EventBus publishes session events to a Redis channel shared by all
// coordinator instances. Publishing is asynchronous: events are queued and
// flushed in pipelined batches so a session operation never waits on Redis.
type EventBus struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	logger     *zap.SugaredLogger
	batcher    *batch.Batcher[*domain.SessionEvent]

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewEventBus creates a new event bus
func NewEventBus(client redis.UniversalClient, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	eb := &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
	}
	eb.batcher = batch.NewBatcher(64, 50*time.Millisecond, eb.flush, func(err error, events []*domain.SessionEvent) {
		logger.Warnw("failed to publish session events",
			"error", err,
			"count", len(events),
		)
	})
	return eb
}

// Publish stamps the event with this instance's id and queues it.
func (eb *EventBus) Publish(ctx context.Context, event *domain.SessionEvent) error {
	ev := *event
	ev.InstanceID = eb.instanceID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := eb.batcher.Add(&ev); err != nil {
		return fmt.Errorf("failed to queue event: %w", err)
	}
	return nil
}

func (eb *EventBus) flush(ctx context.Context, events []*domain.SessionEvent) error {
	pipe := eb.client.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			eb.logger.Warnw("dropping unencodable event", "type", ev.Type, "error", err)
			continue
		}
		pipe.Publish(ctx, eb.channel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}

	eb.logger.Debugw("published events", "count", len(events))
	return nil
}

// Subscribe delivers events published by other instances to handler until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.SessionEvent) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event domain.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"session_id", event.SessionID,
					"error", err,
				)
			}
		}
	}
}

// Close flushes queued events and ends any subscription. Events still queued
// when ctx is done are dropped and logged.
func (eb *EventBus) Close(ctx context.Context) error {
	err := eb.batcher.Stop(ctx)
	if n := eb.batcher.PendingCount(); err != nil && n > 0 {
		eb.logger.Warnw("dropping unpublished session events",
			"count", n,
			"error", err,
		)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		if cerr := eb.pubsub.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LogPublisher writes session events to the log. It is the publisher for
// single instance deployments without Redis.
type LogPublisher struct {
	logger *zap.SugaredLogger
}

func NewLogPublisher(logger *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	p.logger.Debugw("session event",
		"type", event.Type,
		"session_id", event.SessionID,
		"connection_id", event.ConnectionID,
		"reason", event.Reason,
	)
	return nil
}
