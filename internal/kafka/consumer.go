package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Message wraps a Kafka message with the fields services need. The raw
// message is retained so the exact offset can be committed later.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Offset  int64
	Headers []kafka.Header

	raw kafka.Message
}

// Consumer reads messages from a Kafka topic. Fetch and Commit are split so
// a worker pool can process several messages concurrently and commit each one
// when its job finishes (at-least-once delivery; duplicates are absorbed by
// the terminal-state idempotency check).
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

type consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a Kafka consumer for the given topic and consumer group.
func NewConsumer(brokers []string, topic, groupID string) Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10 MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // manual commit only
		StartOffset:    kafka.FirstOffset,
	})
	return &consumer{reader: r}
}

func (c *consumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("kafka fetch: %w", err)
	}
	return Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Offset:  m.Offset,
		Headers: m.Headers,
		raw:     m,
	}, nil
}

func (c *consumer) Commit(ctx context.Context, msg Message) error {
	if err := c.reader.CommitMessages(ctx, msg.raw); err != nil {
		return fmt.Errorf("kafka commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (c *consumer) Close() error {
	return c.reader.Close()
}

// ExtractTrace returns a context carrying any trace context the producer
// injected into the message headers.
func ExtractTrace(ctx context.Context, msg Message) context.Context {
	carrier := HeaderCarrier(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}
