package main

import (
	"context"
	"io"
	"time"

	"github.com/afikmenashe/gocart/internal/config"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/afikmenashe/gocart/pkg/shared"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// serviceStatus is the printed report of one service.
type serviceStatus struct {
	Status            string            `yaml:"status"`
	StartedAt         time.Time         `yaml:"started_at,omitempty"`
	LastUpdated       time.Time         `yaml:"last_updated,omitempty"`
	MessagesReceived  uint64            `yaml:"messages_received"`
	MessagesProcessed uint64            `yaml:"messages_processed"`
	MessagesPublished uint64            `yaml:"messages_published"`
	ProcessingErrors  uint64            `yaml:"processing_errors"`
	MeanHandleTime    string            `yaml:"mean_handle_time,omitempty"`
	MaxHandleTime     string            `yaml:"max_handle_time,omitempty"`
	Counters          map[string]uint64 `yaml:"counters,omitempty"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the counters reported by running gocart processes",
		Long: `Read the latest metrics reported to Redis by 'gocart listen' and 'gocart echo'.
Requires redis_addr in the settings file.

Examples:
  gocart status`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := config.Load(settingsPath)
	if err != nil {
		return err
	}
	if s.RedisAddr == "" {
		return errors.WithHint(
			errors.New("redis_addr is not configured"),
			"set redis_addr in the settings file to collect metrics",
		)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	client, err := shared.ConnectRedis(ctx, s.RedisAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	report, err := collectStatus(ctx, client)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), report)
}

// collectStatus reads every known service. Services with no report in Redis are listed as
// offline.
func collectStatus(ctx context.Context, client *redis.Client) (map[string]serviceStatus, error) {
	report := make(map[string]serviceStatus, len(metrics.ServiceNames))
	for _, name := range metrics.ServiceNames {
		r, err := metrics.ReadReport(ctx, client, name)
		if errors.Is(err, metrics.ErrNoReport) {
			report[name] = serviceStatus{Status: "offline"}
			continue
		}
		if err != nil {
			return nil, err
		}
		report[name] = toStatus(r)
	}
	return report, nil
}

func toStatus(r *metrics.Report) serviceStatus {
	s := serviceStatus{
		Status:            r.Status,
		StartedAt:         r.StartedAt,
		LastUpdated:       r.LastUpdated,
		MessagesReceived:  r.MessagesReceived,
		MessagesProcessed: r.MessagesProcessed,
		MessagesPublished: r.MessagesPublished,
		ProcessingErrors:  r.ProcessingErrors,
		Counters:          r.CustomCounters,
	}
	if r.MessagesProcessed > 0 {
		s.MeanHandleTime = r.MeanHandleTime.Round(time.Millisecond).String()
		s.MaxHandleTime = r.MaxHandleTime.Round(time.Millisecond).String()
	}
	return s
}

func printStatus(w io.Writer, report map[string]serviceStatus) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(4)
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "failed to encode status")
	}
	return enc.Close()
}
