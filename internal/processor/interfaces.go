// Package processor drives the alert intake loop: fetch, handle, commit.
package processor

import (
	"context"
	"time"

	"github.com/afikmenashe/gocart/internal/consumer"

	"github.com/segmentio/kafka-go"
)

// MessageReader reads alert messages from a consumer group.
type MessageReader interface {
	// FetchMessage blocks until the next message is available. It does not commit.
	FetchMessage(ctx context.Context) (*kafka.Message, error)

	// CommitMessage commits the offset for the given message.
	CommitMessage(ctx context.Context, msg *kafka.Message) error

	// Close closes the reader and releases resources.
	Close() error
}

// Handler processes one alert message. It reports whether the alert was persisted.
// Errors are per-message: the loop logs them and moves on.
type Handler interface {
	Handle(ctx context.Context, msg *kafka.Message) (bool, error)
}

// ReplaySource looks up and opens partition ranges for replay.
type ReplaySource interface {
	// Ranges returns the offset range of every partition holding messages newer than since.
	Ranges(ctx context.Context, since time.Time) ([]consumer.PartitionRange, error)

	// OpenPartition returns a reader positioned at the start of rng.
	OpenPartition(rng consumer.PartitionRange) (consumer.Fetcher, error)
}
