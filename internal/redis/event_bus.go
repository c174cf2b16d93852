package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Event types published on a job's channel.
const (
	EventStart    = "start"
	EventComplete = "complete"
	EventError    = "error"
)

const cancelChannel = "job:cancel"

func eventChannel(jobID string) string { return "job:events:" + jobID }

// Event is a transient state-transition notification. Data carries the full
// result record for terminal events and the started record for start events.
type Event struct {
	Type string          `json:"event_type"`
	Data json.RawMessage `json:"event_data,omitempty"`
}

// EventBus is the publish/subscribe facility, one channel per job id.
// Nothing is retained for late subscribers: a consumer that connects after a
// terminal event was published recovers it from the ResultStore instead.
type EventBus interface {
	Publish(ctx context.Context, jobID string, ev Event) error
	// Subscribe delivers events for one job id until the returned close
	// function is called or ctx ends.
	Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error)
	// PublishCancel broadcasts a revocation for jobID to all workers.
	PublishCancel(ctx context.Context, jobID string) error
	// SubscribeCancel delivers revoked job ids.
	SubscribeCancel(ctx context.Context) (<-chan string, func(), error)
}

type eventBus struct {
	client *redis.Client
}

// NewEventBus creates a Redis pub/sub backed EventBus.
func NewEventBus(client *redis.Client) EventBus {
	return &eventBus{client: client}
}

func (b *eventBus) Publish(ctx context.Context, jobID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", jobID, err)
	}
	if err := b.client.Publish(ctx, eventChannel(jobID), data).Err(); err != nil {
		return fmt.Errorf("redis publish event for %s: %w", jobID, err)
	}
	return nil
}

func (b *eventBus) Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error) {
	ps := b.client.Subscribe(ctx, eventChannel(jobID))
	// Force the subscription onto the wire before returning so callers do not
	// miss events published right after Subscribe.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe for %s: %w", jobID, err)
	}

	out := make(chan Event, 8)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue // malformed events are dropped, the store poll recovers
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}

func (b *eventBus) PublishCancel(ctx context.Context, jobID string) error {
	if err := b.client.Publish(ctx, cancelChannel, jobID).Err(); err != nil {
		return fmt.Errorf("redis publish cancel for %s: %w", jobID, err)
	}
	return nil
}

func (b *eventBus) SubscribeCancel(ctx context.Context) (<-chan string, func(), error) {
	ps := b.client.Subscribe(ctx, cancelChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe cancel channel: %w", err)
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}
