// Package kafka provides the Kafka connection settings shared by the gocart consumer,
// replayer and producer.
package kafka

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// ParseBrokers parses a comma-separated broker list and trims whitespace.
// Returns a slice of broker addresses.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	brokerList := strings.Split(brokers, ",")
	out := brokerList[:0]
	for _, b := range brokerList {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ValidateConsumerParams validates common consumer parameters.
// Returns an error if any parameter is invalid.
func ValidateConsumerParams(brokers, topic, groupID string) error {
	if brokers == "" {
		return errors.New("brokers cannot be empty")
	}
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	if groupID == "" {
		return errors.New("groupID cannot be empty")
	}
	return nil
}

// ValidateProducerParams validates common producer parameters.
// Returns an error if any parameter is invalid.
func ValidateProducerParams(brokers, topic string) error {
	if brokers == "" {
		return errors.New("brokers cannot be empty")
	}
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	return nil
}

// ReaderConfigValues holds the actual values used in the reader config for logging.
type ReaderConfigValues struct {
	MinBytes    int
	MaxBytes    int
	MaxWait     string
	StartOffset string
}

// GetReaderConfigValues returns the actual configuration values for logging purposes.
func GetReaderConfigValues() ReaderConfigValues {
	return ReaderConfigValues{
		MinBytes:    1,
		MaxBytes:    MaxMessageBytes,
		MaxWait:     MaxPollWait.String(),
		StartOffset: "earliest",
	}
}

// LogReaderConfig logs the reader configuration values.
// Call this after creating a reader to log the actual config being used.
func LogReaderConfig() {
	cfg := GetReaderConfigValues()
	slog.Info("Kafka consumer configured",
		"min_bytes", cfg.MinBytes,
		"max_bytes", cfg.MaxBytes,
		"max_wait", cfg.MaxWait,
		"start_offset", cfg.StartOffset,
		"commit", "synchronous, after processing",
	)
}

// NewReaderConfig creates the consumer group reader configuration for at-least-once delivery.
// CommitInterval is zero, so CommitMessages blocks until the broker has stored the offset.
func NewReaderConfig(brokers []string, topic, groupID string, dialer *kafka.Dialer) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		Dialer:         dialer,
		MinBytes:       1,               // Return immediately when any data is available
		MaxBytes:       MaxMessageBytes, // Sky maps are embedded in the alert
		MaxWait:        MaxPollWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset, // Start from beginning if no committed offset
		Logger:         kafka.LoggerFunc(logDebug),
		ErrorLogger:    kafka.LoggerFunc(logWarn),
	}
}

// NewPartitionReaderConfig creates a reader configuration bound to a single partition with
// no consumer group. Such readers never commit offsets.
func NewPartitionReaderConfig(brokers []string, topic string, partition int, dialer *kafka.Dialer) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		Partition:   partition,
		Dialer:      dialer,
		MinBytes:    1,
		MaxBytes:    MaxMessageBytes,
		MaxWait:     MaxPollWait,
		Logger:      kafka.LoggerFunc(logDebug),
		ErrorLogger: kafka.LoggerFunc(logWarn),
	}
}

func logDebug(msg string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, args...), "component", "kafka-go")
}

func logWarn(msg string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, args...), "component", "kafka-go")
}
