// Package metrics collects gocart counters and periodically reports them to Redis.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix reports are stored under.
	KeyPrefix = "metrics:"
	// ReportTTL is how long a report stays in Redis if not refreshed.
	ReportTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing reports to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Service names reports are stored under.
const (
	ServiceListen = "gocart-listen"
	ServiceEcho   = "gocart-echo"
)

// ServiceNames lists every service that reports metrics.
var ServiceNames = []string{ServiceListen, ServiceEcho}

// Custom counter names.
const (
	CounterFiltered        = "alerts_filtered"
	CounterSkippedClass    = "alerts_skipped_class"
	CounterMalformed       = "alerts_malformed"
	CounterCatchupSkipped  = "catchup_messages_skipped"
	CounterReplayed        = "messages_replayed"
	CounterDuplicateAlerts = "alerts_duplicate"
)

// Report is the state of one gocart process as stored in Redis.
type Report struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy", or "stale" once past ReportTTL

	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesPublished uint64 `json:"messages_published"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	// Time spent in the alert handler, sky map resampling included.
	MeanHandleTime time.Duration `json:"mean_handle_time_ns"`
	MaxHandleTime  time.Duration `json:"max_handle_time_ns"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector counts what a gocart process does. With a Redis client it also writes a
// Report every interval; without one it only counts.
type Collector struct {
	service   string
	redis     *redis.Client
	startedAt time.Time
	interval  time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64

	handleTotal atomic.Int64
	handleMax   atomic.Int64

	mu     sync.Mutex
	custom map[string]uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector reporting under service. redisClient may be nil.
func NewCollector(service string, redisClient *redis.Client) *Collector {
	return &Collector{
		service:   service,
		redis:     redisClient,
		startedAt: time.Now().UTC(),
		interval:  DefaultReportInterval,
		custom:    make(map[string]uint64),
		stopCh:    make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing reports to Redis. Call it before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.interval = interval
}

// Start begins the periodic reporting to Redis. It is a no-op without a client.
func (c *Collector) Start(ctx context.Context) {
	if c.redis == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background())
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop ends reporting and waits for the final write. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived counts a fetched message.
func (c *Collector) RecordReceived() {
	c.received.Add(1)
}

// RecordProcessed counts a handled message and how long handling took.
func (c *Collector) RecordProcessed(d time.Duration) {
	c.processed.Add(1)
	c.handleTotal.Add(int64(d))
	for {
		cur := c.handleMax.Load()
		if int64(d) <= cur || c.handleMax.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// RecordPublished counts an AlertPersisted notice.
func (c *Collector) RecordPublished() {
	c.published.Add(1)
}

// RecordError counts a message the handler failed on.
func (c *Collector) RecordError() {
	c.failed.Add(1)
}

// IncrementCustom adds one to the named counter.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds value to the named counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.mu.Lock()
	c.custom[name] += value
	c.mu.Unlock()
}

// GetSnapshot returns the current report without writing it.
func (c *Collector) GetSnapshot() *Report {
	r := &Report{
		ServiceName:       c.service,
		StartedAt:         c.startedAt,
		LastUpdated:       time.Now().UTC(),
		Status:            "healthy",
		MessagesReceived:  c.received.Load(),
		MessagesProcessed: c.processed.Load(),
		MessagesPublished: c.published.Load(),
		ProcessingErrors:  c.failed.Load(),
		MaxHandleTime:     time.Duration(c.handleMax.Load()),
	}
	if r.MessagesProcessed > 0 {
		r.MeanHandleTime = time.Duration(c.handleTotal.Load() / int64(r.MessagesProcessed))
	}

	c.mu.Lock()
	r.CustomCounters = make(map[string]uint64, len(c.custom))
	for name, v := range c.custom {
		r.CustomCounters[name] = v
	}
	c.mu.Unlock()
	return r
}

// LogSummary writes the current counters to the log. Used when a run ends.
func (c *Collector) LogSummary() {
	r := c.GetSnapshot()
	args := []any{
		"service", r.ServiceName,
		"received", r.MessagesReceived,
		"processed", r.MessagesProcessed,
		"published", r.MessagesPublished,
		"errors", r.ProcessingErrors,
		"mean_handle_time", r.MeanHandleTime,
		"max_handle_time", r.MaxHandleTime,
	}
	for name, v := range r.CustomCounters {
		args = append(args, name, v)
	}
	slog.Info("Run summary", args...)
}

func (c *Collector) write(ctx context.Context) {
	data, err := json.Marshal(c.GetSnapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.service, "error", err)
		return
	}

	key := KeyPrefix + c.service
	if err := c.redis.Set(ctx, key, data, ReportTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.service, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "service", c.service, "key", key)
}

// ErrNoReport is returned when a service has no report in Redis.
var ErrNoReport = errors.New("no metrics reported")

// ReadReport returns the last report written for service.
func ReadReport(ctx context.Context, client *redis.Client, service string) (*Report, error) {
	data, err := client.Get(ctx, KeyPrefix+service).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(ErrNoReport, "service %s", service)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read metrics")
	}
	return decodeReport(data, time.Now())
}

func decodeReport(data []byte, now time.Time) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metrics")
	}
	if now.Sub(r.LastUpdated) > ReportTTL {
		r.Status = "stale"
	}
	return &r, nil
}
