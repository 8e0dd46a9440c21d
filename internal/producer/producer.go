// Package producer publishes alerts.persisted notices after an alert is archived.
package producer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/afikmenashe/gocart/internal/events"
	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer and publishes AlertPersisted notices.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a new Kafka producer with the specified brokers and topic.
// The producer is configured for at-least-once delivery semantics with synchronous writes.
// A nil transport uses kafka-go's default plaintext transport.
func NewProducer(brokers, topic string, transport *kafka.Transport) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Key-based partitioning (hashes the message key)
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne, // At-least-once semantics (waits for leader ack)
		Async:        false,
	}
	if transport != nil {
		writer.Transport = transport
	}

	slog.Info("Kafka producer configured",
		"write_timeout", kafkautil.WriteTimeout,
		"required_acks", "RequireOne",
		"async", false,
		"partition_key", "superevent_id (hashed)",
	)

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// buildMessage creates a Kafka message from an AlertPersisted notice.
// Keying by superevent_id keeps every revision of an event on one partition, in order.
func buildMessage(n *events.AlertPersisted) (kafka.Message, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "failed to marshal alert persisted notice")
	}

	return kafka.Message{
		Key:   []byte(n.SupereventID),
		Value: payload,
		Headers: []kafka.Header{
			{
				Key:   "content-type",
				Value: []byte("application/json"),
			},
			{
				Key:   "schema_version",
				Value: []byte(strconv.Itoa(n.SchemaVersion)),
			},
			{
				Key:   "alert_type",
				Value: []byte(n.AlertType),
			},
		},
		Time: time.Now(),
	}, nil
}

// Publish serializes the notice to JSON and writes it synchronously.
func (p *Producer) Publish(ctx context.Context, n *events.AlertPersisted) error {
	msg, err := buildMessage(n)
	if err != nil {
		slog.Error("Failed to build alert persisted message",
			"superevent_id", n.SupereventID,
			"error", err,
		)
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write message to Kafka",
			"superevent_id", n.SupereventID,
			"topic", p.topic,
			"error", err,
		)
		return errors.Wrap(err, "failed to write message to Kafka")
	}

	slog.Info("Published alert persisted notice",
		"superevent_id", n.SupereventID,
		"alert_type", n.AlertType,
		"topic", p.topic,
	)

	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}
