// Package kafka carries index notifications over segmentio/kafka-go. A writer
// publishes an event after a load or merge, and query servers consume it to
// reload their snapshot without waiting for the next poll.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
)

// MessageHandler processes one message. A returned error leaves the message
// uncommitted, so the group redelivers it after a restart.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as a member of the configured consumer group.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	backoff time.Duration
	logger  *slog.Logger
}

// NewConsumer starts at the newest offset for a new group: a query server only
// cares about indexes published after it started.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     time.Second,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		backoff: time.Second,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start dispatches messages until ctx is done, then closes the reader. Fetch
// failures are logged and retried after a pause.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
			c.logger.Info("consumer stopped")
			return nil
		case err != nil:
			c.logger.Warn("fetch failed", "error", err, "retry_in", c.backoff)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
		log.Error("message not processed", "error", err)
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.Warn("commit failed", "error", err)
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decoding message: %w", err)
	}
	return v, nil
}
