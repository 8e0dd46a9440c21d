package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/afikmenashe/gocart/internal/consumer"

	"github.com/segmentio/kafka-go"
)

// FakeReader is a test fake for MessageReader backed by a single partition log.
// CommittedOffset plays the role of the broker-side group offset.
type FakeReader struct {
	Messages        []kafka.Message
	FetchErr        error
	FailCommitAt    int64 // offset whose first commit fails, -1 for none
	CommitErr       error
	Committed       []int64
	CommittedOffset int64
	// Drained is called each time a fetch finds no message; empties counts from 1.
	Drained func(empties int)
	// Joining is the number of fetches that time out before the log becomes readable,
	// as while the consumer group join is still in progress.
	Joining int

	next    int
	empties int
}

func NewFakeReader(n int) *FakeReader {
	r := &FakeReader{FailCommitAt: -1}
	for i := 0; i < n; i++ {
		r.Append([]byte("alert"))
	}
	return r
}

// Append adds a message at the end of the log.
func (f *FakeReader) Append(value []byte) {
	f.Messages = append(f.Messages, kafka.Message{
		Topic:     "igwn.gwalert",
		Partition: 0,
		Offset:    int64(len(f.Messages)),
		Value:     value,
	})
}

// Restart simulates a process restart: reading resumes at the committed offset.
func (f *FakeReader) Restart() {
	f.next = int(f.CommittedOffset)
}

func (f *FakeReader) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	if f.Joining > 0 {
		f.Joining--
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.next >= len(f.Messages) {
		f.empties++
		if f.Drained != nil {
			f.Drained(f.empties)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	msg := f.Messages[f.next]
	f.next++
	return &msg, nil
}

func (f *FakeReader) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	if msg.Offset == f.FailCommitAt {
		f.FailCommitAt = -1
		return errors.New("commit failed: coordinator not available")
	}
	f.Committed = append(f.Committed, msg.Offset)
	f.CommittedOffset = msg.Offset + 1
	return nil
}

func (f *FakeReader) Close() error {
	return nil
}

// FakeHandler is a test fake for Handler. By default every message is persisted.
type FakeHandler struct {
	Handled []int64
	Errors  map[int64]error
	Skip    map[int64]bool
	OnHandle func(msg *kafka.Message)
}

func (f *FakeHandler) Handle(ctx context.Context, msg *kafka.Message) (bool, error) {
	f.Handled = append(f.Handled, msg.Offset)
	if f.OnHandle != nil {
		f.OnHandle(msg)
	}
	if err := f.Errors[msg.Offset]; err != nil {
		return false, err
	}
	return !f.Skip[msg.Offset], nil
}

// FakeMetrics is a test fake for MetricsRecorder.
type FakeMetrics struct {
	mu        sync.Mutex
	Received  int
	Processed int
	Errors    int
	Custom    map[string]int
}

func (f *FakeMetrics) RecordReceived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Received++
}

func (f *FakeMetrics) RecordProcessed(_ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Processed++
}

func (f *FakeMetrics) RecordError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors++
}

func (f *FakeMetrics) IncrementCustom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Custom == nil {
		f.Custom = make(map[string]int)
	}
	f.Custom[name]++
}

// FakeSource is a test fake for ReplaySource. Partitions maps a partition to its log.
type FakeSource struct {
	PartitionRanges []consumer.PartitionRange
	RangesErr  error
	Partitions map[int][]kafka.Message
	Opened     []int
	Closed     int
}

func (f *FakeSource) Ranges(ctx context.Context, since time.Time) ([]consumer.PartitionRange, error) {
	if f.RangesErr != nil {
		return nil, f.RangesErr
	}
	return f.PartitionRanges, nil
}

func (f *FakeSource) OpenPartition(rng consumer.PartitionRange) (consumer.Fetcher, error) {
	f.Opened = append(f.Opened, rng.Partition)
	return &fakeFetcher{source: f, log: f.Partitions[rng.Partition], next: rng.Start}, nil
}

type fakeFetcher struct {
	source *FakeSource
	log    []kafka.Message
	next   int64
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	if f.next >= int64(len(f.log)) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	msg := f.log[f.next]
	f.next++
	return &msg, nil
}

func (f *fakeFetcher) Close() error {
	f.source.Closed++
	return nil
}
