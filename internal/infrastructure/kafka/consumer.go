package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

const (
	defaultRetryBackoff    = time.Second
	defaultMaxRetryBackoff = time.Minute
)

// Consumer reads inventory events from the queue. Within a partition
// messages are handled strictly in order; a message whose handler fails is
// retried in place and nothing behind it is fetched or committed, because
// committing a later offset would discard the failed message for good.
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger

	retryBackoff    time.Duration
	maxRetryBackoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:          reader,
		logger:          logger,
		retryBackoff:    defaultRetryBackoff,
		maxRetryBackoff: defaultMaxRetryBackoff,
	}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		if err := c.handleUntilDone(ctx, handler, msg.Key, msg.Value); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message", zap.Error(err))
		}
	}
}

// handleUntilDone delivers one message to the handler, retrying with growing
// backoff until it is accepted or the context ends. The handler dead-letters
// terminal events itself and returns nil for them; an error here means the
// outcome is still unknown (storage down, version retries exhausted), and
// the only safe move is to keep trying the same message.
func (c *Consumer) handleUntilDone(ctx context.Context, handler MessageHandler, key, value []byte) error {
	backoff := c.retryBackoff
	for {
		err := handler(ctx, key, value)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Error("failed to handle message, retrying in place",
			zap.String("key", string(key)),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.maxRetryBackoff {
			backoff = c.maxRetryBackoff
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
