package main

import (
	"context"
	"log/slog"

	"github.com/afikmenashe/gocart/internal/consumer"
	"github.com/afikmenashe/gocart/internal/processor"
	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/afikmenashe/gocart/pkg/shared"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func listenCmd() *cobra.Command {
	var testMode bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen to the alert stream and archive matching alerts",
		Long: `Subscribe to the GCN Kafka alert topic and archive every alert that passes the
configured filters. On the first run the existing backlog is skipped.

Examples:
  # Run until interrupted
  gocart listen

  # Stop after the first archived alert
  gocart listen -t`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(testMode)
		},
	}

	cmd.Flags().BoolVarP(&testMode, "test", "t", false, "stop after one alert has been archived")
	return cmd
}

// groupState is the broker-side view of the consumer group.
type groupState interface {
	HasCommittedOffsets(ctx context.Context) (bool, error)
	Backlog(ctx context.Context) ([]consumer.PartitionRange, error)
}

// intakeOptions enables catch-up when the consumer group has never committed an offset,
// bounded by the backlog present on the topic right now.
func intakeOptions(ctx context.Context, g groupState, testMode bool) (processor.Options, error) {
	opts := processor.Options{IdleTimeout: kafkautil.ReadTimeout}
	if testMode {
		opts.StopAfter = 1
	}

	committed, err := g.HasCommittedOffsets(ctx)
	if err != nil {
		return opts, err
	}
	if committed {
		return opts, nil
	}

	backlog, err := g.Backlog(ctx)
	if err != nil {
		return opts, err
	}
	opts.CatchUp = true
	opts.Backlog = backlog
	return opts, nil
}

func runListen(testMode bool) error {
	s, err := loadSettings(true)
	if err != nil {
		return err
	}

	slog.Info("Starting gocart listener",
		"brokers", s.GCNKafka.BrokerList(),
		"topic", s.GCNKafka.Topic,
		"group_id", s.GCNKafka.GroupID,
		"download_dir", s.LVK.DownloadDir,
		"nside", s.LVK.Nside,
		"filters", len(s.LVK.Filters),
		"postgres_dsn", shared.MaskDSN(s.PostgresDSN),
		"redis_addr", s.RedisAddr,
		"test_mode", testMode,
	)

	ctx, cancel := signalContext()
	defer cancel()

	dialer, transport, err := kafkaTransport(s)
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, s, metrics.ServiceListen)
	if err != nil {
		return err
	}
	defer p.Close()

	group, err := consumer.NewGroup(s.GCNKafka.BrokerList(), s.GCNKafka.Topic, s.GCNKafka.GroupID, transport)
	if err != nil {
		return err
	}
	opts, err := intakeOptions(ctx, group, testMode)
	if err != nil {
		slog.Info("Tip: Check gcn_kafka.brokers and your client credentials")
		return errors.Wrap(err, "failed to inspect consumer group")
	}

	slog.Info("Connecting to Kafka consumer", "topic", s.GCNKafka.Topic, "catch_up", opts.CatchUp)
	kafkaConsumer, err := consumer.NewConsumer(s.GCNKafka.BrokerList(), s.GCNKafka.Topic, s.GCNKafka.GroupID, dialer)
	if err != nil {
		slog.Info("Tip: Check gcn_kafka.brokers and your client credentials")
		return err
	}
	defer kafkaConsumer.Close()
	slog.Info("Successfully connected to Kafka consumer")

	proc := processor.NewProcessorWithMetrics(kafkaConsumer, p.handler, opts, p.metrics)
	if err := proc.Run(ctx); err != nil {
		return errors.Wrap(err, "alert processing failed")
	}

	p.metrics.LogSummary()
	slog.Info("gocart listener stopped")
	return nil
}
