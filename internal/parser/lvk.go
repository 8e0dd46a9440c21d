// Package parser turns igwn.gwalert messages into archived alerts.
package parser

import (
	"bytes"
	"context"
	"log/slog"
	"math"

	"github.com/afikmenashe/gocart/internal/archive"
	"github.com/afikmenashe/gocart/internal/database"
	"github.com/afikmenashe/gocart/internal/events"
	"github.com/afikmenashe/gocart/internal/filter"
	"github.com/afikmenashe/gocart/internal/skymap"
	"github.com/afikmenashe/gocart/pkg/metrics"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// probabilityTolerance is how far a map's integrated probability may stray from 1 before
// it is reported.
const probabilityTolerance = 0.01

// Archiver writes an alert bundle to disk and returns its directory.
type Archiver interface {
	Write(ctx context.Context, b archive.Bundle) (string, error)
}

// AlertStorage records archived alerts. A nil id means the alert was already recorded.
type AlertStorage interface {
	InsertAlertIdempotent(ctx context.Context, a database.Alert) (*int64, error)
}

// AlertPublisher announces archived alerts downstream.
type AlertPublisher interface {
	Publish(ctx context.Context, n *events.AlertPersisted) error
}

// MetricsRecorder defines the metrics operations needed by the parser.
type MetricsRecorder interface {
	RecordPublished()
	IncrementCustom(name string)
}

type noOpMetrics struct{}

func (noOpMetrics) RecordPublished() {}

func (noOpMetrics) IncrementCustom(_ string) {}

// Config selects which alerts are archived and at what resolution.
type Config struct {
	ParseMockEvents bool
	ParseRealEvents bool
	Nside           int64
	Filter          *filter.Filter
}

// LVK handles LIGO/Virgo/KAGRA gravitational-wave alerts.
type LVK struct {
	cfg       Config
	archive   Archiver
	catalogue AlertStorage
	publisher AlertPublisher
	metrics   MetricsRecorder
}

// NewLVK creates a handler that archives through a. The catalogue, publisher and metrics
// are optional and may be nil.
func NewLVK(cfg Config, a Archiver, catalogue AlertStorage, publisher AlertPublisher, m MetricsRecorder) *LVK {
	if cfg.Nside == 0 {
		cfg.Nside = skymap.DefaultNside
	}
	if m == nil {
		m = noOpMetrics{}
	}
	return &LVK{
		cfg:       cfg,
		archive:   a,
		catalogue: catalogue,
		publisher: publisher,
		metrics:   m,
	}
}

// Handle parses, filters and archives one alert. It reports whether the alert was
// archived. Malformed alerts and sky maps are returned marked with
// events.ErrMalformedAlert or skymap.ErrMalformedSkymap.
func (l *LVK) Handle(ctx context.Context, msg *kafka.Message) (bool, error) {
	alert, err := events.ParseAlert(msg.Value)
	if err != nil {
		return false, err
	}

	if !l.wantClass(alert) {
		slog.Debug("Skipping alert, event class disabled",
			"superevent_id", alert.SupereventID,
			"event_class", alert.EventClass(),
		)
		l.metrics.IncrementCustom(metrics.CounterSkippedClass)
		return false, nil
	}

	bundle := archive.Bundle{Alert: alert}
	candidate := filter.Candidate{
		AlertType:  alert.AlertType,
		BNS:        alert.Classification("BNS"),
		NSBH:       alert.Classification("NSBH"),
		FAR:        alert.FAR(),
		HasNS:      alert.Property("HasNS"),
		HasRemnant: alert.Property("HasRemnant"),
	}

	if alert.HasSkymap() {
		if err := l.analyse(alert, &bundle, &candidate); err != nil {
			return false, errors.Wrapf(err, "alert %s", alert.SupereventID)
		}
	}

	ok, rule := l.cfg.Filter.Allow(candidate)
	if !ok {
		slog.Info("Alert did not pass any filter",
			"superevent_id", alert.SupereventID,
			"alert_type", alert.AlertType,
		)
		l.metrics.IncrementCustom(metrics.CounterFiltered)
		return false, nil
	}
	bundle.Rule = rule

	dir, err := l.archive.Write(ctx, bundle)
	if err != nil {
		return false, errors.Wrapf(err, "failed to archive alert %s", alert.SupereventID)
	}

	slog.Info("Archived alert",
		"superevent_id", alert.SupereventID,
		"alert_type", alert.AlertType,
		"directory", dir,
		"rule", rule,
	)

	if l.catalogue != nil {
		id, err := l.catalogue.InsertAlertIdempotent(ctx, database.Alert{
			SupereventID: alert.SupereventID,
			AlertType:    alert.AlertType,
			TimeCreated:  alert.CreatedAt,
			EventClass:   alert.EventClass(),
			Directory:    dir,
			Area90:       candidate.Area90,
			FAR:          candidate.FAR,
			Rule:         rule,
		})
		if err != nil {
			return false, errors.Wrapf(err, "failed to catalogue alert %s", alert.SupereventID)
		}
		if id == nil {
			// Redelivered revision: already announced.
			l.metrics.IncrementCustom(metrics.CounterDuplicateAlerts)
			return true, nil
		}
	}

	if l.publisher != nil {
		notice := &events.AlertPersisted{
			SupereventID:  alert.SupereventID,
			AlertType:     alert.AlertType,
			TimeCreated:   alert.TimeCreated,
			EventClass:    alert.EventClass(),
			Directory:     dir,
			Rule:          rule,
			Area90:        candidate.Area90,
			SchemaVersion: events.SchemaVersion,
		}
		if err := l.publisher.Publish(ctx, notice); err != nil {
			return false, errors.Wrapf(err, "failed to publish alert %s", alert.SupereventID)
		}
		l.metrics.RecordPublished()
	}

	return true, nil
}

func (l *LVK) wantClass(a *events.AlertRecord) bool {
	if a.IsMock() {
		return l.cfg.ParseMockEvents
	}
	return l.cfg.ParseRealEvents
}

// analyse decodes the sky map, resamples it and fills in the derived fields.
func (l *LVK) analyse(alert *events.AlertRecord, b *archive.Bundle, c *filter.Candidate) error {
	m, err := skymap.ReadMultiOrder(bytes.NewReader(alert.Event.Skymap))
	if err != nil {
		return err
	}

	total, err := skymap.TotalProbability(m)
	if err != nil {
		return err
	}
	if math.Abs(total-1) > probabilityTolerance {
		slog.Warn("Sky map probability does not integrate to 1",
			"superevent_id", alert.SupereventID,
			"total_probability", total,
		)
	}

	flat, err := skymap.Flatten(m, l.cfg.Nside)
	if err != nil {
		return err
	}
	stats, err := skymap.Stats(flat.Pixels())
	if err != nil {
		return err
	}

	slog.Info("Most probable sky location",
		"superevent_id", alert.SupereventID,
		"ra", stats.CentralCoordinate.RA,
		"dec", stats.CentralCoordinate.Dec,
		"area90", stats.Area90,
	)

	if dist, ok := m.Header.Float("DISTMEAN"); ok {
		c.DistMean = &dist
		std, _ := m.Header.Float("DISTSTD")
		slog.Info("Distance estimate",
			"superevent_id", alert.SupereventID,
			"distmean", dist,
			"diststd", std,
		)
	}
	area90 := stats.Area90
	c.Area90 = &area90

	b.Skymap = alert.Event.Skymap
	b.Creator = m.Creator()
	b.Header = m.Header
	b.Stats = stats
	b.Flat = flat
	return nil
}
