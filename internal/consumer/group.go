package consumer

import (
	"context"
	"log/slog"
	"time"

	kafkautil "github.com/afikmenashe/gocart/pkg/kafka"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// groupClient is the subset of *kafka.Client used to inspect a consumer group.
type groupClient interface {
	offsetClient
	OffsetFetch(ctx context.Context, req *kafka.OffsetFetchRequest) (*kafka.OffsetFetchResponse, error)
}

// Group reads the broker-side state of a consumer group on one topic.
type Group struct {
	client  groupClient
	topic   string
	groupID string
}

// NewGroup creates an inspector for groupID on topic. The transport authenticates requests.
func NewGroup(brokers, topic, groupID string, transport *kafka.Transport) (*Group, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	return &Group{
		client: &kafka.Client{
			Addr:      kafka.TCP(kafkautil.ParseBrokers(brokers)...),
			Timeout:   kafkautil.ReadTimeout,
			Transport: transport,
		},
		topic:   topic,
		groupID: groupID,
	}, nil
}

// HasCommittedOffsets reports whether the group has stored an offset on any partition of
// the topic. A group that never committed is on its first connection.
func (g *Group) HasCommittedOffsets(ctx context.Context) (bool, error) {
	partitions, err := topicPartitions(ctx, g.client, g.topic)
	if err != nil {
		return false, err
	}

	resp, err := g.client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		GroupID: g.groupID,
		Topics:  map[string][]int{g.topic: partitions},
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to fetch offsets of group %s", g.groupID)
	}
	if resp.Error != nil {
		return false, errors.Wrapf(resp.Error, "failed to fetch offsets of group %s", g.groupID)
	}

	for _, p := range resp.Topics[g.topic] {
		if p.Error != nil {
			return false, errors.Wrapf(p.Error, "failed to fetch offset of partition %d", p.Partition)
		}
		if p.CommittedOffset >= 0 {
			slog.Debug("Consumer group has committed offsets",
				"group_id", g.groupID,
				"partition", p.Partition,
				"offset", p.CommittedOffset,
			)
			return true, nil
		}
	}
	return false, nil
}

// Backlog returns the offset range of every partition currently holding messages.
func (g *Group) Backlog(ctx context.Context) ([]PartitionRange, error) {
	r := &Replayer{client: g.client, topic: g.topic}
	return r.Ranges(ctx, time.UnixMilli(0))
}
