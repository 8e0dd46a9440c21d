package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/afikmenashe/gocart/internal/archive"
	"github.com/afikmenashe/gocart/internal/config"
	"github.com/afikmenashe/gocart/internal/database"
	"github.com/afikmenashe/gocart/internal/filter"
	"github.com/afikmenashe/gocart/internal/parser"
	"github.com/afikmenashe/gocart/internal/producer"
	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/afikmenashe/gocart/pkg/shared"
	"github.com/segmentio/kafka-go"
)

// loadSettings reads and validates the settings file. A placeholder consumer group is
// replaced by a new one, which is written back to the file only when persistGroup is set
// and the settings are valid.
func loadSettings(persistGroup bool) (*config.Settings, error) {
	s, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	generated := config.AssignGroupID(s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if generated && persistGroup {
		if err := config.SaveGroupID(s); err != nil {
			return nil, err
		}
		slog.Info("Generated new consumer group", "group_id", s.GCNKafka.GroupID, "settings", s.Path)
	}
	return s, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			slog.Info("Received shutdown signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// kafkaTransport builds the dialer used by readers and the transport used by admin
// requests for the GCN brokers.
func kafkaTransport(s *config.Settings) (*kafka.Dialer, *kafka.Transport, error) {
	auth := kafkautil.Auth{
		ClientID:     s.GCNKafka.ClientID,
		ClientSecret: s.GCNKafka.ClientSecret,
		TokenURL:     s.GCNKafka.TokenURL(),
		Plaintext:    s.GCNKafka.Plaintext,
	}
	dialer, err := kafkautil.NewDialer(auth)
	if err != nil {
		return nil, nil, err
	}
	transport, err := kafkautil.NewTransport(auth)
	if err != nil {
		return nil, nil, err
	}
	return dialer, transport, nil
}

// pipeline is the alert handler and the resources it owns.
type pipeline struct {
	handler *parser.LVK
	metrics *metrics.Collector
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// newPipeline connects the optional metrics, catalogue and publisher backends and builds
// the alert handler on top of them.
func newPipeline(ctx context.Context, s *config.Settings, service string) (*pipeline, error) {
	p := &pipeline{}
	ok := false
	defer func() {
		if !ok {
			p.Close()
		}
	}()

	var collector *metrics.Collector
	if s.RedisAddr != "" {
		slog.Info("Connecting to Redis", "addr", s.RedisAddr)
		redisClient, err := shared.ConnectRedis(ctx, s.RedisAddr)
		if err != nil {
			slog.Info("Tip: Start Redis or clear redis_addr in the settings file")
			return nil, err
		}
		p.closers = append(p.closers, func() { redisClient.Close() })
		slog.Info("Successfully connected to Redis")
		collector = metrics.NewCollector(service, redisClient)
	} else {
		collector = metrics.NewCollector(service, nil)
	}
	collector.Start(ctx)
	p.closers = append(p.closers, collector.Stop)
	p.metrics = collector

	var storage parser.AlertStorage
	if s.PostgresDSN != "" {
		slog.Info("Connecting to PostgreSQL database", "dsn", shared.MaskDSN(s.PostgresDSN))
		db, err := database.NewDB(s.PostgresDSN)
		if err != nil {
			slog.Info("Tip: Start Postgres or clear postgres_dsn in the settings file")
			return nil, err
		}
		p.closers = append(p.closers, func() { db.Close() })
		if err := db.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		storage = db
	}

	var publisher parser.AlertPublisher
	if s.Publish.Topic != "" {
		slog.Info("Connecting to Kafka producer", "topic", s.Publish.Topic)
		prod, err := producer.NewProducer(s.Publish.Brokers, s.Publish.Topic, nil)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { prod.Close() })
		slog.Info("Successfully connected to Kafka producer")
		publisher = prod
	}

	if s.LVK.Plot != (config.PlotSettings{}) {
		slog.Debug("Plot settings are accepted but no plots are rendered", "plot", s.LVK.Plot)
	}

	p.handler = parser.NewLVK(parser.Config{
		ParseMockEvents: s.LVK.ParseMockEvents,
		ParseRealEvents: s.LVK.ParseRealEvents,
		Nside:           s.LVK.Nside,
		Filter:          filter.New(s.LVK.Filters),
	}, archive.NewWriter(s.LVK.DownloadDir, s.LVK.JSONDump), storage, publisher, collector)

	ok = true
	return p, nil
}
