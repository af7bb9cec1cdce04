package kafka

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// Session is an open franz-go client bound to one cluster.
type Session struct {
	dialer *Dialer
	seeds  []string
	client *kgo.Client
	admin  *kadm.Client
}

var _ cluster.Session = (*Session)(nil)

// Close closes the Kafka client connection
func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Metadata fetches brokers and the partition layout of every topic.
func (s *Session) Metadata(ctx context.Context) (cluster.Metadata, error) {
	var meta kadm.Metadata
	if err := withRetry(ctx, "fetch broker metadata", func() error {
		var metaErr error
		meta, metaErr = s.admin.Metadata(ctx)
		return metaErr
	}); err != nil {
		return cluster.Metadata{}, fmt.Errorf("failed to fetch broker metadata: %w", err)
	}

	out := cluster.Metadata{
		ClusterID:  meta.Cluster,
		Controller: meta.Controller,
		Brokers:    make([]cluster.Broker, 0, len(meta.Brokers)),
		Topics:     make(map[string][]int32, len(meta.Topics)),
		FetchedAt:  time.Now(),
	}
	for _, broker := range meta.Brokers {
		rack := ""
		if broker.Rack != nil {
			rack = *broker.Rack
		}
		out.Brokers = append(out.Brokers, cluster.Broker{
			ID:   broker.NodeID,
			Host: broker.Host,
			Port: broker.Port,
			Rack: rack,
		})
	}
	for name, detail := range meta.Topics {
		if detail.Err != nil {
			continue
		}
		out.Topics[name] = partitionIDs(detail.Partitions)
	}

	return out, nil
}

// KafkaVersion guesses the broker release from the advertised API versions.
func (s *Session) KafkaVersion(ctx context.Context) (string, error) {
	versions, err := s.admin.ApiVersions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch API versions: %w", err)
	}

	nodes := make([]int32, 0, len(versions))
	for id := range versions {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var lastErr error
	for _, id := range nodes {
		v := versions[id]
		if v.Err != nil {
			lastErr = v.Err
			continue
		}
		return v.VersionGuess(), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no broker answered")
	}
	return "", fmt.Errorf("failed to fetch API versions: %w", lastErr)
}

// ListTopics returns every topic name, internal topics included, sorted.
func (s *Session) ListTopics(ctx context.Context) ([]string, error) {
	var details kadm.TopicDetails
	if err := withRetry(ctx, "list topics", func() error {
		var listErr error
		details, listErr = s.admin.ListTopicsWithInternal(ctx)
		return listErr
	}); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	names := make([]string, 0, len(details))
	for name, detail := range details {
		if detail.Err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Partitions returns the sorted partition ids of topic.
func (s *Session) Partitions(ctx context.Context, topic string) ([]int32, error) {
	var details kadm.TopicDetails
	if err := withRetry(ctx, "describe topic", func() error {
		var listErr error
		details, listErr = s.admin.ListTopicsWithInternal(ctx, topic)
		return listErr
	}); err != nil {
		return nil, fmt.Errorf("failed to describe topic %q: %w", topic, err)
	}

	detail, ok := details[topic]
	if !ok || errors.Is(detail.Err, kerr.UnknownTopicOrPartition) {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}
	if detail.Err != nil {
		return nil, fmt.Errorf("failed to describe topic %q: %w", topic, detail.Err)
	}
	return partitionIDs(detail.Partitions), nil
}

// Watermarks lists the start and end offsets of every partition of topic.
func (s *Session) Watermarks(ctx context.Context, topic string) (map[int32]cluster.Watermark, error) {
	var starts, ends kadm.ListedOffsets
	if err := withRetry(ctx, "list start offsets", func() error {
		var listErr error
		starts, listErr = s.admin.ListStartOffsets(ctx, topic)
		return listErr
	}); err != nil {
		return nil, fmt.Errorf("failed to list start offsets for %q: %w", topic, err)
	}
	if err := withRetry(ctx, "list end offsets", func() error {
		var listErr error
		ends, listErr = s.admin.ListEndOffsets(ctx, topic)
		return listErr
	}); err != nil {
		return nil, fmt.Errorf("failed to list end offsets for %q: %w", topic, err)
	}

	return mergeWatermarks(topic, starts[topic], ends[topic])
}

// Messages reads the records of one partition with offsets in [from, to].
// Records are fetched as the sequence is consumed.
func (s *Session) Messages(ctx context.Context, topic string, partition int32, from, to int64) iter.Seq2[cluster.Message, error] {
	return func(yield func(cluster.Message, error) bool) {
		if from > to {
			return
		}

		client, err := kgo.NewClient(s.dialer.clientOpts(s.seeds,
			kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
				topic: {partition: kgo.NewOffset().At(from)},
			}),
			// Transaction markers occupy offsets; without them a range
			// ending at a commit marker never completes.
			kgo.KeepControlRecords(),
		)...)
		if err != nil {
			yield(cluster.Message{}, fmt.Errorf("failed to create consumer: %w", err))
			return
		}
		defer client.Close()

		cur := &cursor{next: from, to: to}
		for !cur.done() {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(cluster.Message{}, fmt.Errorf("read %s/%d: %w", topic, partition, err))
				return
			}

			var (
				stop     bool
				fetchErr error
			)
			fetches.EachPartition(func(p kgo.FetchTopicPartition) {
				if stop {
					return
				}
				if p.Err != nil {
					fetchErr, stop = p.Err, true
					return
				}
				for _, rec := range p.Records {
					if rec.Offset > to {
						stop = true
						return
					}
					if !cur.accept(rec.Offset, rec.Attrs.IsControl()) {
						continue
					}
					if !yield(toMessage(rec), nil) {
						stop = true
						return
					}
				}
				cur.drained(p.HighWatermark)
			})
			if fetchErr != nil {
				yield(cluster.Message{}, fmt.Errorf("read %s/%d: %w", topic, partition, fetchErr))
				return
			}
			if stop {
				return
			}
		}
	}
}

// Produce writes one record and returns it with its assigned offset.
func (s *Session) Produce(ctx context.Context, rec cluster.Record) (cluster.Message, error) {
	var extra []kgo.Opt
	if rec.Partition >= 0 {
		extra = append(extra, kgo.RecordPartitioner(kgo.ManualPartitioner()))
	}

	client, err := kgo.NewClient(s.dialer.clientOpts(s.seeds, extra...)...)
	if err != nil {
		return cluster.Message{}, fmt.Errorf("failed to create producer: %w", err)
	}
	defer client.Close()

	produced, err := client.ProduceSync(ctx, toRecord(rec)).First()
	if err != nil {
		return cluster.Message{}, fmt.Errorf("produce to %q: %w", rec.Topic, err)
	}
	return toMessage(produced), nil
}

// CreateTopic creates a topic. Zero partitions or replicas use the broker
// defaults.
func (s *Session) CreateTopic(ctx context.Context, spec cluster.TopicSpec) error {
	partitions, replicas := spec.Partitions, spec.ReplicationFactor
	if partitions <= 0 {
		partitions = -1
	}
	if replicas <= 0 {
		replicas = -1
	}

	configs := make(map[string]*string, len(spec.Configs))
	for k, v := range spec.Configs {
		configs[k] = strPtr(v)
	}

	resps, err := s.admin.CreateTopics(ctx, partitions, replicas, configs, spec.Name)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", spec.Name, err)
	}
	if resp, ok := resps[spec.Name]; ok && resp.Err != nil {
		return fmt.Errorf("create topic %q: %w", spec.Name, resp.Err)
	}
	return nil
}

// DeleteTopic deletes a topic.
func (s *Session) DeleteTopic(ctx context.Context, topic string) error {
	resps, err := s.admin.DeleteTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("delete topic %q: %w", topic, err)
	}
	if resp, ok := resps[topic]; ok && resp.Err != nil {
		if errors.Is(resp.Err, kerr.UnknownTopicOrPartition) {
			return fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
		}
		return fmt.Errorf("delete topic %q: %w", topic, resp.Err)
	}
	return nil
}

// DescribeTopicConfig returns the entries of topic that differ from the
// broker defaults.
func (s *Session) DescribeTopicConfig(ctx context.Context, topic string) (map[string]string, error) {
	configs, err := s.admin.DescribeTopicConfigs(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("describe config of %q: %w", topic, err)
	}

	out := make(map[string]string)
	for _, rc := range configs {
		if rc.Name != topic {
			continue
		}
		if rc.Err != nil {
			if errors.Is(rc.Err, kerr.UnknownTopicOrPartition) {
				return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
			}
			return nil, fmt.Errorf("describe config of %q: %w", topic, rc.Err)
		}
		for _, entry := range rc.Configs {
			if entry.Value == nil || entry.Source == kmsg.ConfigSourceDefaultConfig {
				continue
			}
			out[entry.Key] = *entry.Value
		}
	}
	return out, nil
}

// AlterTopicConfig sets the given entries on topic. An empty value deletes
// the override so the broker default applies again.
func (s *Session) AlterTopicConfig(ctx context.Context, topic string, values map[string]string) error {
	alters := make([]kadm.AlterConfig, 0, len(values))
	for k, v := range values {
		if v == "" {
			alters = append(alters, kadm.AlterConfig{Op: kadm.DeleteConfig, Name: k})
			continue
		}
		alters = append(alters, kadm.AlterConfig{Op: kadm.SetConfig, Name: k, Value: strPtr(v)})
	}

	resps, err := s.admin.AlterTopicConfigs(ctx, alters, topic)
	if err != nil {
		return fmt.Errorf("alter config of %q: %w", topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil {
			return fmt.Errorf("alter config of %q: %w (%s)", topic, resp.Err, resp.ErrMessage)
		}
	}
	return nil
}

// ConsumerGroups lists every consumer group with its state and total lag.
// A group that cannot be described is still listed with what the listing
// reported.
func (s *Session) ConsumerGroups(ctx context.Context) ([]cluster.Group, error) {
	var listed kadm.ListedGroups
	if err := withRetry(ctx, "list consumer groups", func() error {
		var groupErr error
		listed, groupErr = s.admin.ListGroups(ctx)
		return groupErr
	}); err != nil {
		return nil, fmt.Errorf("failed to list consumer groups: %w", err)
	}
	if len(listed) == 0 {
		return nil, nil
	}

	lags, err := s.admin.Lag(ctx, listed.Groups()...)
	if err != nil {
		return nil, fmt.Errorf("failed to describe consumer groups: %w", err)
	}

	groups := make([]cluster.Group, 0, len(listed))
	for _, l := range listed.Sorted() {
		described, ok := lags[l.Group]
		if !ok || described.Error() != nil {
			// Non-fatal: report the group without details
			slog.Warn("failed to describe consumer group", "group", l.Group, "error", described.Error())
			groups = append(groups, cluster.Group{
				ID:           l.Group,
				State:        l.State,
				ProtocolType: l.ProtocolType,
				Coordinator:  l.Coordinator,
				Lag:          -1,
			})
			continue
		}
		groups = append(groups, toGroup(described))
	}
	return groups, nil
}

// GroupLag returns the committed offset and lag of group on every partition
// it has committed to.
func (s *Session) GroupLag(ctx context.Context, group string) ([]cluster.GroupOffset, error) {
	var lags kadm.DescribedGroupLags
	if err := withRetry(ctx, "describe consumer group", func() error {
		var lagErr error
		lags, lagErr = s.admin.Lag(ctx, group)
		return lagErr
	}); err != nil {
		return nil, fmt.Errorf("failed to describe consumer group %q: %w", group, err)
	}

	described, ok := lags[group]
	if !ok || isDeadGroup(described) || errors.Is(described.Error(), kerr.GroupIDNotFound) {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownGroup, group)
	}
	if err := described.Error(); err != nil {
		return nil, fmt.Errorf("failed to describe consumer group %q: %w", group, err)
	}
	return groupOffsets(described), nil
}
