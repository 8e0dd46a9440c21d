package kafka

import "time"

const (
	// ReadTimeout is the idle timeout used while catching up or replaying: a fetch that
	// returns nothing within it means the partition is drained.
	ReadTimeout = 10 * time.Second
	// MaxPollWait is the longest a single fetch request waits for new data.
	MaxPollWait = 1 * time.Second
	// WriteTimeout is the maximum time to wait for a Kafka write operation.
	WriteTimeout = 10 * time.Second
	// DialTimeout bounds connection setup, including the SASL handshake.
	DialTimeout = 30 * time.Second
	// MaxMessageBytes is the largest fetch accepted from the broker.
	MaxMessageBytes = 10e6
)
