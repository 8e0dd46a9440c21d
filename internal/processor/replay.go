package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/afikmenashe/gocart/internal/consumer"
	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/cockroachdb/errors"
)

// Replayer re-handles the alerts of a past time window. It never commits offsets, so it
// does not disturb the consumer group used by the intake loop.
type Replayer struct {
	source      ReplaySource
	handler     Handler
	metrics     MetricsRecorder
	idleTimeout time.Duration
}

// NewReplayer creates a replayer. If m is nil, a no-op implementation is used.
func NewReplayer(source ReplaySource, handler Handler, m MetricsRecorder) *Replayer {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Replayer{
		source:      source,
		handler:     handler,
		metrics:     m,
		idleTimeout: kafkautil.ReadTimeout,
	}
}

// SetIdleTimeout sets how long a fetch may wait before a partition counts as drained.
func (r *Replayer) SetIdleTimeout(d time.Duration) {
	r.idleTimeout = d
}

// Run handles every message published since the given time, partition by partition, and
// returns the number of messages handled.
func (r *Replayer) Run(ctx context.Context, since time.Time) (int, error) {
	ranges, err := r.source.Ranges(ctx, since)
	if err != nil {
		return 0, errors.Wrap(err, "failed to look up replay offsets")
	}

	slog.Info("Replaying alerts", "since", since.UTC().Format(time.RFC3339), "partitions", len(ranges))

	total := 0
	for _, rng := range ranges {
		if ctx.Err() != nil {
			break
		}
		n, err := r.replayPartition(ctx, rng)
		total += n
		if err != nil {
			return total, err
		}
	}

	slog.Info("Replay finished", "messages", total)
	return total, nil
}

func (r *Replayer) replayPartition(ctx context.Context, rng consumer.PartitionRange) (int, error) {
	fetcher, err := r.source.OpenPartition(rng)
	if err != nil {
		return 0, err
	}
	defer fetcher.Close()

	slog.Info("Replaying partition", "partition", rng.Partition, "start", rng.Start, "end", rng.End)

	handled := 0
	for {
		if ctx.Err() != nil {
			return handled, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, r.idleTimeout)
		msg, err := fetcher.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return handled, nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("Partition went idle before its end offset",
					"partition", rng.Partition,
					"end", rng.End,
					"handled", handled,
				)
				return handled, nil
			}
			return handled, errors.Wrapf(err, "replay of partition %d failed", rng.Partition)
		}
		if msg.Offset >= rng.End {
			return handled, nil
		}

		r.metrics.RecordReceived()
		r.metrics.IncrementCustom(metrics.CounterReplayed)
		handleMessage(ctx, r.handler, r.metrics, msg)
		handled++

		if msg.Offset+1 >= rng.End {
			return handled, nil
		}
	}
}
