package consumer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// PartitionRange is the half-open offset interval [Start, End) of one partition.
type PartitionRange struct {
	Partition int
	Start     int64
	End       int64
}

// Empty reports whether the range holds no messages.
func (r PartitionRange) Empty() bool {
	return r.Start >= r.End
}

// Fetcher reads messages from one partition.
type Fetcher interface {
	FetchMessage(ctx context.Context) (*kafka.Message, error)
	Close() error
}

// offsetClient is the subset of *kafka.Client used to look up offsets.
type offsetClient interface {
	Metadata(ctx context.Context, req *kafka.MetadataRequest) (*kafka.MetadataResponse, error)
	ListOffsets(ctx context.Context, req *kafka.ListOffsetsRequest) (*kafka.ListOffsetsResponse, error)
}

// Replayer re-reads a time window of a topic without joining a consumer group.
type Replayer struct {
	client  offsetClient
	brokers []string
	topic   string
	dialer  *kafka.Dialer
}

// NewReplayer creates a replayer for topic. The transport authenticates offset lookups and
// the dialer authenticates partition readers.
func NewReplayer(brokers, topic string, dialer *kafka.Dialer, transport *kafka.Transport) (*Replayer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka replayer",
		"brokers", brokerList,
		"topic", topic,
	)

	return &Replayer{
		client: &kafka.Client{
			Addr:      kafka.TCP(brokerList...),
			Timeout:   kafkautil.ReadTimeout,
			Transport: transport,
		},
		brokers: brokerList,
		topic:   topic,
		dialer:  dialer,
	}, nil
}

// Ranges returns, per partition, the offsets of the first message at or after since and
// the current end of the partition. Partitions with nothing to replay are omitted.
func (r *Replayer) Ranges(ctx context.Context, since time.Time) ([]PartitionRange, error) {
	partitions, err := topicPartitions(ctx, r.client, r.topic)
	if err != nil {
		return nil, err
	}

	startReqs := make([]kafka.OffsetRequest, len(partitions))
	endReqs := make([]kafka.OffsetRequest, len(partitions))
	for i, p := range partitions {
		startReqs[i] = kafka.TimeOffsetOf(p, since)
		endReqs[i] = kafka.LastOffsetOf(p)
	}

	starts, err := r.listOffsets(ctx, startReqs)
	if err != nil {
		return nil, err
	}
	ends, err := r.listOffsets(ctx, endReqs)
	if err != nil {
		return nil, err
	}

	var ranges []PartitionRange
	for _, p := range partitions {
		end, ok := ends[p]
		if !ok {
			return nil, errors.Newf("no end offset for partition %d", p)
		}
		rng := PartitionRange{Partition: p, Start: end.LastOffset, End: end.LastOffset}
		if s, ok := starts[p]; ok {
			if off, found := earliestOffset(s); found && off >= 0 {
				rng.Start = off
			}
		}
		if rng.Empty() {
			continue
		}
		ranges = append(ranges, rng)
	}
	return ranges, nil
}

// topicPartitions returns the sorted partition IDs of topic.
func topicPartitions(ctx context.Context, client offsetClient, topic string) ([]int, error) {
	meta, err := client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch metadata for topic %s", topic)
	}

	var partitions []int
	for _, t := range meta.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, errors.Wrapf(t.Error, "metadata error for topic %s", topic)
		}
		for _, p := range t.Partitions {
			partitions = append(partitions, p.ID)
		}
	}
	if len(partitions) == 0 {
		return nil, errors.Newf("topic %s has no partitions", topic)
	}
	sort.Ints(partitions)
	return partitions, nil
}

func (r *Replayer) listOffsets(ctx context.Context, reqs []kafka.OffsetRequest) (map[int]kafka.PartitionOffsets, error) {
	resp, err := r.client.ListOffsets(ctx, &kafka.ListOffsetsRequest{
		Topics: map[string][]kafka.OffsetRequest{r.topic: reqs},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list offsets for topic %s", r.topic)
	}
	out := make(map[int]kafka.PartitionOffsets)
	for _, po := range resp.Topics[r.topic] {
		if po.Error != nil {
			return nil, errors.Wrapf(po.Error, "failed to list offsets for partition %d", po.Partition)
		}
		out[po.Partition] = po
	}
	return out, nil
}

// earliestOffset returns the lowest offset answered to a timestamp lookup.
func earliestOffset(po kafka.PartitionOffsets) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for off := range po.Offsets {
		if !found || off < best {
			best, found = off, true
		}
	}
	return best, found
}

// OpenPartition returns a reader positioned at the start of rng.
func (r *Replayer) OpenPartition(rng PartitionRange) (Fetcher, error) {
	reader := kafka.NewReader(kafkautil.NewPartitionReaderConfig(r.brokers, r.topic, rng.Partition, r.dialer))
	if err := reader.SetOffset(rng.Start); err != nil {
		reader.Close()
		return nil, errors.Wrapf(err, "failed to seek partition %d to offset %d", rng.Partition, rng.Start)
	}
	return &partitionReader{reader: reader}, nil
}

type partitionReader struct {
	reader *kafka.Reader
}

func (p *partitionReader) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	msg, err := p.reader.FetchMessage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch message from Kafka")
	}
	return &msg, nil
}

func (p *partitionReader) Close() error {
	return p.reader.Close()
}
