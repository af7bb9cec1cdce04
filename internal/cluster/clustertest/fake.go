// Package clustertest provides in-memory cluster.Dialer and cluster.Session
// implementations for tests.
package clustertest

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
)

// Dialer hands out Sessions keyed by the first broker address. Dial blocks
// on Gate when it is set, and fails with Err when it is set.
type Dialer struct {
	mu       sync.Mutex
	sessions map[string]*Session
	Err      error
	Gate     chan struct{}
	Panic    any

	calls atomic.Int64
}

// NewDialer returns a dialer with no registered clusters.
func NewDialer() *Dialer {
	return &Dialer{sessions: make(map[string]*Session)}
}

// Add registers sess as the cluster reachable at broker.
func (d *Dialer) Add(broker string, sess *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[broker] = sess
}

// Calls returns how many times Dial was invoked.
func (d *Dialer) Calls() int {
	return int(d.calls.Load())
}

func (d *Dialer) Dial(ctx context.Context, brokers []string) (cluster.Session, error) {
	d.calls.Add(1)
	if d.Panic != nil {
		panic(d.Panic)
	}
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %v: %w", brokers, ctx.Err())
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no brokers provided")
	}

	d.mu.Lock()
	sess, ok := d.sessions[brokers[0]]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial tcp %s: connect: connection refused", brokers[0])
	}
	sess.closed.Store(false)
	return sess, nil
}

// Session is an in-memory cluster with topics, watermarks and messages.
type Session struct {
	mu       sync.Mutex
	brokers  int
	version  string
	topics   map[string]map[int32][]cluster.Message
	starts   map[string]map[int32]int64
	configs  map[string]map[string]string
	groups   map[string][]groupCommit
	MetaErr  error
	FetchErr error

	closed     atomic.Bool
	topicCalls atomic.Int64
	markCalls  atomic.Int64
}

// NewSession returns a cluster with brokers brokers and no topics.
func NewSession(brokers int, version string) *Session {
	return &Session{
		brokers: brokers,
		version: version,
		topics:  make(map[string]map[int32][]cluster.Message),
		starts:  make(map[string]map[int32]int64),
		configs: make(map[string]map[string]string),
		groups:  make(map[string][]groupCommit),
	}
}

type groupCommit struct {
	topic     string
	partition int32
	offset    int64
}

// Commit records a committed offset for group, creating the group on first
// use.
func (s *Session) Commit(group, topic string, partition int32, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commits := s.groups[group]
	for i, c := range commits {
		if c.topic == topic && c.partition == partition {
			commits[i].offset = offset
			return
		}
	}
	s.groups[group] = append(commits, groupCommit{topic: topic, partition: partition, offset: offset})
}

// AddTopic creates topic with the given number of empty partitions.
func (s *Session) AddTopic(topic string, partitions int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addTopicLocked(topic, partitions)
}

func (s *Session) addTopicLocked(topic string, partitions int32) {
	parts := make(map[int32][]cluster.Message, partitions)
	starts := make(map[int32]int64, partitions)
	for p := int32(0); p < partitions; p++ {
		parts[p] = nil
		starts[p] = 0
	}
	s.topics[topic] = parts
	s.starts[topic] = starts
	s.configs[topic] = make(map[string]string)
}

// Fill appends n messages with values "m<offset>" to a partition.
func (s *Session) Fill(topic string, partition int32, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.appendLocked(cluster.Record{
			Topic:     topic,
			Partition: partition,
			Value:     []byte(fmt.Sprintf("m%d", s.endLocked(topic, partition))),
		})
	}
}

// Truncate moves the low watermark of a partition to low.
func (s *Session) Truncate(topic string, partition int32, low int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts[topic][partition] = low
}

// Closed reports whether Close was called since the last Dial.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// TopicCalls returns how many times ListTopics or Partitions hit the session.
func (s *Session) TopicCalls() int {
	return int(s.topicCalls.Load())
}

// WatermarkCalls returns how many times Watermarks hit the session.
func (s *Session) WatermarkCalls() int {
	return int(s.markCalls.Load())
}

func (s *Session) endLocked(topic string, partition int32) int64 {
	return s.starts[topic][partition] + int64(len(s.visibleLocked(topic, partition)))
}

func (s *Session) visibleLocked(topic string, partition int32) []cluster.Message {
	msgs := s.topics[topic][partition]
	low := s.starts[topic][partition]
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Offset >= low {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) appendLocked(rec cluster.Record) cluster.Message {
	msgs := s.topics[rec.Topic][rec.Partition]
	var offset int64
	if n := len(msgs); n > 0 {
		offset = msgs[n-1].Offset + 1
	}
	msg := cluster.Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   rec.Headers,
		Timestamp: time.Unix(1700000000+offset, 0),
	}
	s.topics[rec.Topic][rec.Partition] = append(msgs, msg)
	return msg
}

func (s *Session) Metadata(ctx context.Context) (cluster.Metadata, error) {
	if s.MetaErr != nil {
		return cluster.Metadata{}, s.MetaErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := cluster.Metadata{Topics: make(map[string][]int32, len(s.topics)), FetchedAt: time.Now()}
	for i := 0; i < s.brokers; i++ {
		meta.Brokers = append(meta.Brokers, cluster.Broker{ID: int32(i), Host: "localhost", Port: 9092 + int32(i)})
	}
	for name := range s.topics {
		meta.Topics[name] = s.partitionsLocked(name)
	}
	return meta, nil
}

func (s *Session) KafkaVersion(ctx context.Context) (string, error) {
	return s.version, nil
}

func (s *Session) ListTopics(ctx context.Context) ([]string, error) {
	s.topicCalls.Add(1)
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Session) Partitions(ctx context.Context, topic string) ([]int32, error) {
	s.topicCalls.Add(1)
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topic]; !ok {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}
	return s.partitionsLocked(topic), nil
}

func (s *Session) partitionsLocked(topic string) []int32 {
	ids := make([]int32, 0, len(s.topics[topic]))
	for id := range s.topics[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Session) Watermarks(ctx context.Context, topic string) (map[int32]cluster.Watermark, error) {
	s.markCalls.Add(1)
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	parts, ok := s.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}
	out := make(map[int32]cluster.Watermark, len(parts))
	for p := range parts {
		out[p] = cluster.Watermark{Low: s.starts[topic][p], High: s.endLocked(topic, p)}
	}
	return out, nil
}

func (s *Session) Messages(ctx context.Context, topic string, partition int32, from, to int64) iter.Seq2[cluster.Message, error] {
	return func(yield func(cluster.Message, error) bool) {
		s.mu.Lock()
		msgs := s.visibleLocked(topic, partition)
		s.mu.Unlock()

		for _, m := range msgs {
			if m.Offset < from || m.Offset > to {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(cluster.Message{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (s *Session) Produce(ctx context.Context, rec cluster.Record) (cluster.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts, ok := s.topics[rec.Topic]
	if !ok {
		return cluster.Message{}, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, rec.Topic)
	}
	if rec.Partition < 0 {
		rec.Partition = int32(len(rec.Key) % len(parts))
	}
	if _, ok := parts[rec.Partition]; !ok {
		return cluster.Message{}, fmt.Errorf("%w: %d", cluster.ErrUnknownPartition, rec.Partition)
	}
	return s.appendLocked(rec), nil
}

func (s *Session) CreateTopic(ctx context.Context, spec cluster.TopicSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[spec.Name]; ok {
		return fmt.Errorf("topic %q already exists", spec.Name)
	}
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	s.addTopicLocked(spec.Name, partitions)
	for k, v := range spec.Configs {
		s.configs[spec.Name][k] = v
	}
	return nil
}

func (s *Session) DeleteTopic(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topic]; !ok {
		return fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}
	delete(s.topics, topic)
	delete(s.starts, topic)
	delete(s.configs, topic)
	return nil
}

func (s *Session) DescribeTopicConfig(ctx context.Context, topic string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, nil
}

func (s *Session) AlterTopicConfig(ctx context.Context, topic string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[topic]
	if !ok {
		return fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}
	for k, v := range values {
		if v == "" {
			delete(cfg, k)
			continue
		}
		cfg[k] = v
	}
	return nil
}

func (s *Session) ConsumerGroups(ctx context.Context) ([]cluster.Group, error) {
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]cluster.Group, 0, len(names))
	for _, name := range names {
		g := cluster.Group{ID: name, State: "Empty", ProtocolType: "consumer"}
		seen := make(map[string]bool)
		for _, off := range s.groupOffsetsLocked(name) {
			if !seen[off.Topic] {
				seen[off.Topic] = true
				g.Topics = append(g.Topics, off.Topic)
			}
			if off.Lag > 0 {
				g.Lag += off.Lag
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *Session) GroupLag(ctx context.Context, group string) ([]cluster.GroupOffset, error) {
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[group]; !ok {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownGroup, group)
	}
	return s.groupOffsetsLocked(group), nil
}

func (s *Session) groupOffsetsLocked(group string) []cluster.GroupOffset {
	out := make([]cluster.GroupOffset, 0, len(s.groups[group]))
	for _, c := range s.groups[group] {
		off := cluster.GroupOffset{Group: group, Topic: c.topic, Partition: c.partition, Committed: c.offset, Lag: -1}
		if _, ok := s.topics[c.topic][c.partition]; ok {
			off.End = s.endLocked(c.topic, c.partition)
			off.Lag = max(off.End-c.offset, 0)
		}
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

func (s *Session) Close() {
	s.closed.Store(true)
}
