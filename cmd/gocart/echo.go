package main

import (
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/afikmenashe/gocart/internal/consumer"
	"github.com/afikmenashe/gocart/internal/processor"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func echoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "echo <daysAgo>",
		Short: "Replay the alerts of the last N days",
		Long: `Re-read every alert published in the last <daysAgo> days and handle it as the
listener would, then exit. Offsets of the consumer group are left untouched.

Examples:
  # Replay the last day
  gocart echo 1

  # Replay the last six hours
  gocart echo 0.25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := parseDaysAgo(args[0])
			if err != nil {
				return err
			}
			return runEcho(days)
		},
	}
}

// parseDaysAgo accepts a positive, finite number of days.
func parseDaysAgo(arg string) (float64, error) {
	days, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(days) || math.IsInf(days, 0) || days <= 0 {
		return 0, errors.WithHint(
			errors.Newf("daysAgo must be a positive number, got %q", arg),
			"for example 'gocart echo 2' replays the last two days",
		)
	}
	return days, nil
}

func runEcho(days float64) error {
	s, err := loadSettings(false)
	if err != nil {
		return err
	}

	since := time.Now().Add(-time.Duration(days * float64(24*time.Hour)))
	slog.Info("Starting gocart echo",
		"brokers", s.GCNKafka.BrokerList(),
		"topic", s.GCNKafka.Topic,
		"since", since.UTC().Format(time.RFC3339),
		"download_dir", s.LVK.DownloadDir,
	)

	ctx, cancel := signalContext()
	defer cancel()

	dialer, transport, err := kafkaTransport(s)
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, s, metrics.ServiceEcho)
	if err != nil {
		return err
	}
	defer p.Close()

	source, err := consumer.NewReplayer(s.GCNKafka.BrokerList(), s.GCNKafka.Topic, dialer, transport)
	if err != nil {
		return err
	}

	replayer := processor.NewReplayer(source, p.handler, p.metrics)
	n, err := replayer.Run(ctx, since)
	if err != nil {
		return errors.Wrap(err, "replay failed")
	}

	p.metrics.LogSummary()
	slog.Info("gocart echo finished", "messages", n)
	return nil
}
