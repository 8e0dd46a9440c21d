package processor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/afikmenashe/gocart/internal/consumer"
	"github.com/afikmenashe/gocart/internal/events"
	"github.com/afikmenashe/gocart/internal/skymap"
	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// State is the intake loop lifecycle state.
type State int32

const (
	StateInit State = iota
	StateCatchup
	StateSteady
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCatchup:
		return "catchup"
	case StateSteady:
		return "steady"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Options tune the intake loop.
type Options struct {
	// CatchUp skips the backlog of a consumer group that has never committed. Every message
	// already on the topic is committed without being handled.
	CatchUp bool
	// StopAfter stops the loop once this many alerts have been persisted. Zero means never.
	StopAfter int
	// IdleTimeout is how long a catch-up fetch may wait before the backlog counts as drained.
	IdleTimeout time.Duration
	// Backlog is the offset range of every partition holding messages when catch-up starts.
	// Catch-up does not end before the end of each range has been committed, however long
	// the group join takes.
	Backlog []consumer.PartitionRange
}

// Processor is the alert intake loop. It is single-threaded: one message is fetched,
// handled and committed before the next fetch.
type Processor struct {
	reader  MessageReader
	handler Handler
	metrics MetricsRecorder
	opts    Options

	state     atomic.Int32
	stop      atomic.Bool
	persisted int
	committed int
}

// NewProcessor creates an intake loop with no-op metrics.
func NewProcessor(reader MessageReader, handler Handler, opts Options) *Processor {
	return NewProcessorWithMetrics(reader, handler, opts, nil)
}

// NewProcessorWithMetrics creates an intake loop with the provided metrics recorder.
// If m is nil, a no-op implementation is used.
func NewProcessorWithMetrics(reader MessageReader, handler Handler, opts Options, m MetricsRecorder) *Processor {
	if m == nil {
		m = &NoOpMetrics{}
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = kafkautil.ReadTimeout
	}
	return &Processor{
		reader:  reader,
		handler: handler,
		metrics: m,
		opts:    opts,
	}
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// Committed returns the number of offsets committed so far, catch-up included.
func (p *Processor) Committed() int {
	return p.committed
}

// Stop asks the loop to finish after the message in flight. Safe to call from any goroutine.
func (p *Processor) Stop() {
	p.stop.Store(true)
}

func (p *Processor) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		slog.Debug("Intake state changed", "from", old, "to", s)
	}
}

func (p *Processor) shouldStop(ctx context.Context) bool {
	return ctx.Err() != nil || p.stop.Load()
}

// Run consumes alerts until the context is cancelled, Stop is called, StopAfter alerts
// have been persisted, or the transport fails. Only transport failures are returned.
func (p *Processor) Run(ctx context.Context) error {
	p.setState(StateInit)

	if p.opts.CatchUp {
		p.setState(StateCatchup)
		stopped, err := p.catchUp(ctx)
		if err != nil {
			p.setState(StateFailed)
			return err
		}
		if stopped {
			p.setState(StateStopped)
			return nil
		}
	}

	p.setState(StateSteady)
	slog.Info("Starting alert processing loop")

	for {
		if p.shouldStop(ctx) {
			p.setState(StateStopped)
			slog.Info("Alert processing loop stopped", "committed", p.committed, "persisted", p.persisted)
			return nil
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.setState(StateFailed)
			return errors.Wrap(err, "alert intake failed")
		}

		p.metrics.RecordReceived()
		if p.processMessage(ctx, msg) {
			p.persisted++
		}

		if err := p.commit(ctx, msg); err != nil {
			p.setState(StateFailed)
			return errors.Wrap(err, "alert intake failed")
		}

		if p.opts.StopAfter > 0 && p.persisted >= p.opts.StopAfter {
			slog.Info("Persisted requested number of alerts, stopping", "persisted", p.persisted)
			p.Stop()
		}
	}
}

// catchUp commits the existing backlog without handling it. It returns when a fetch sees
// no message within the idle timeout and every backlog range has been committed.
func (p *Processor) catchUp(ctx context.Context) (bool, error) {
	slog.Info("New consumer group, skipping the alert backlog",
		"idle_timeout", p.opts.IdleTimeout,
		"partitions", len(p.opts.Backlog),
	)

	pending := make(map[int]int64, len(p.opts.Backlog))
	for _, rng := range p.opts.Backlog {
		if !rng.Empty() {
			pending[rng.Partition] = rng.End
		}
	}

	skipped := 0
	for {
		if p.shouldStop(ctx) {
			return true, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, p.opts.IdleTimeout)
		msg, err := p.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if len(pending) > 0 {
					slog.Info("Waiting for the alert backlog", "skipped", skipped, "pending_partitions", len(pending))
					continue
				}
				slog.Info("Caught up with the alert stream", "skipped", skipped)
				return false, nil
			}
			return false, errors.Wrap(err, "catch-up failed")
		}

		if err := p.commit(ctx, msg); err != nil {
			return false, errors.Wrap(err, "catch-up failed")
		}
		skipped++
		p.metrics.IncrementCustom(metrics.CounterCatchupSkipped)
		if end, ok := pending[msg.Partition]; ok && msg.Offset+1 >= end {
			delete(pending, msg.Partition)
		}
	}
}

// commit stores the offset of msg. A handled message is committed even if the context is
// cancelled meanwhile, so shutdown does not cause it to be handled again.
func (p *Processor) commit(ctx context.Context, msg *kafka.Message) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), kafkautil.WriteTimeout)
	defer cancel()
	if err := p.reader.CommitMessage(commitCtx, msg); err != nil {
		slog.Error("Failed to commit offset",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return err
	}
	p.committed++
	return nil
}

// processMessage hands a message to the handler. Failures are logged and counted but
// never block the stream. Returns true if the alert was persisted.
func (p *Processor) processMessage(ctx context.Context, msg *kafka.Message) bool {
	return handleMessage(ctx, p.handler, p.metrics, msg)
}

func handleMessage(ctx context.Context, h Handler, m MetricsRecorder, msg *kafka.Message) bool {
	startTime := time.Now()

	persisted, err := h.Handle(ctx, msg)
	if err != nil {
		m.RecordError()
		if errors.Is(err, events.ErrMalformedAlert) || errors.Is(err, skymap.ErrMalformedSkymap) {
			m.IncrementCustom(metrics.CounterMalformed)
			slog.Warn("Skipping malformed alert",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return false
		}
		slog.Error("Failed to handle alert",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return false
	}

	m.RecordProcessed(time.Since(startTime))
	return persisted
}
