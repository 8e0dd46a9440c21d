// Package consumer reads GCN alerts from Kafka, either through a consumer group with
// explicit commits or partition by partition when replaying a time window.
package consumer

import (
	"context"
	"log/slog"

	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// Consumer wraps a consumer group reader. Offsets are only committed through CommitMessage.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// The consumer is configured for at-least-once delivery semantics.
func NewConsumer(brokers, topic, groupID string, dialer *kafka.Dialer) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	// StartOffset only applies when no committed offset exists for the consumer group
	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID, dialer))
	kafkautil.LogReaderConfig()

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// FetchMessage blocks until the next message is available. It does not commit.
func (c *Consumer) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch message from Kafka")
	}
	return &msg, nil
}

// CommitMessage commits the offset for the given message.
// This should be called after the message has been handled.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, *msg); err != nil {
		return errors.Wrapf(err, "failed to commit offset %d on partition %d", msg.Offset, msg.Partition)
	}
	return nil
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
