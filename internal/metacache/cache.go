// Package metacache caches topic and partition metadata per cluster. Entries
// are fetched on demand and live until they are invalidated.
package metacache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"golang.org/x/sync/singleflight"
)

// Source is the part of a cluster session the cache reads from.
type Source interface {
	ListTopics(ctx context.Context) ([]string, error)
	Partitions(ctx context.Context, topic string) ([]int32, error)
	Watermarks(ctx context.Context, topic string) (map[int32]cluster.Watermark, error)
	Messages(ctx context.Context, topic string, partition int32, from, to int64) iter.Seq2[cluster.Message, error]
}

// Resolver returns the live source of a connected cluster. It returns a
// *cluster.ConnectionError when the cluster is not connected.
type Resolver interface {
	Source(name string) (Source, error)
}

// TopicSnapshot is the cached view of one topic.
type TopicSnapshot struct {
	Cluster    string                      `json:"cluster"`
	Topic      string                      `json:"topic"`
	Partitions []int32                     `json:"partitions"`
	Watermarks map[int32]cluster.Watermark `json:"watermarks,omitempty"`
	FetchedAt  time.Time                   `json:"fetched_at"`
}

type topicKey struct {
	cluster string
	topic   string
}

type topicEntry struct {
	partitions []int32
	marks      map[int32]cluster.Watermark
	fetchedAt  time.Time
}

// Cache holds topic lists and per-topic snapshots for many clusters.
type Cache struct {
	resolver Resolver
	group    singleflight.Group
	now      func() time.Time

	mu      sync.Mutex
	lists   map[string][]string
	entries map[topicKey]*topicEntry
	gens    map[string]uint64
}

// New returns an empty cache reading through resolver.
func New(resolver Resolver) *Cache {
	return &Cache{
		resolver: resolver,
		now:      time.Now,
		lists:    make(map[string][]string),
		entries:  make(map[topicKey]*topicEntry),
		gens:     make(map[string]uint64),
	}
}

// ListTopics returns the sorted topic names of a cluster.
func (c *Cache) ListTopics(ctx context.Context, name string) ([]string, error) {
	c.mu.Lock()
	if names, ok := c.lists[name]; ok {
		c.mu.Unlock()
		return append([]string(nil), names...), nil
	}
	gen := c.gens[name]
	c.mu.Unlock()

	v, err := c.do(name, gen, "topics", "", func(src Source) (any, error) {
		names, err := src.ListTopics(ctx)
		if err != nil {
			return nil, err
		}
		sort.Strings(names)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[name] == gen {
			c.lists[name] = names
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// Partitions returns the sorted partition ids of a topic.
func (c *Cache) Partitions(ctx context.Context, name, topic string) ([]int32, error) {
	entry, err := c.entry(ctx, name, topic)
	if err != nil {
		return nil, err
	}
	return append([]int32(nil), entry.partitions...), nil
}

// Watermarks returns the low and high watermark of one partition. The
// watermarks of the whole topic are fetched on first use.
func (c *Cache) Watermarks(ctx context.Context, name, topic string, partition int32) (cluster.Watermark, error) {
	marks, err := c.marks(ctx, name, topic)
	if err != nil {
		return cluster.Watermark{}, err
	}
	wm, ok := marks[partition]
	if !ok {
		return cluster.Watermark{}, fmt.Errorf("%w: %s/%d", cluster.ErrUnknownPartition, topic, partition)
	}
	return wm, nil
}

// Snapshot returns the partitions and all watermarks of a topic.
func (c *Cache) Snapshot(ctx context.Context, name, topic string) (TopicSnapshot, error) {
	marks, err := c.marks(ctx, name, topic)
	if err != nil {
		return TopicSnapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := TopicSnapshot{Cluster: name, Topic: topic, Watermarks: marks}
	if entry, ok := c.entries[topicKey{name, topic}]; ok {
		snap.Partitions = append([]int32(nil), entry.partitions...)
		snap.FetchedAt = entry.fetchedAt
	} else {
		for p := range marks {
			snap.Partitions = append(snap.Partitions, p)
		}
		sort.Slice(snap.Partitions, func(i, j int) bool { return snap.Partitions[i] < snap.Partitions[j] })
		snap.FetchedAt = c.now()
	}
	return snap, nil
}

// MessagesInRange returns a lazy sequence of the messages of a partition
// with offsets in [from, to], clamped to the partition's watermarks. A range
// that is empty after clamping yields nothing.
func (c *Cache) MessagesInRange(ctx context.Context, name, topic string, partition int32, from, to int64) (iter.Seq2[cluster.Message, error], error) {
	if from > to {
		return emptySeq, nil
	}

	wm, err := c.Watermarks(ctx, name, topic, partition)
	if err != nil {
		return nil, err
	}
	from, to, ok := clamp(from, to, wm)
	if !ok {
		return emptySeq, nil
	}
	return c.read(ctx, name, topic, partition, from, to)
}

// LatestMessages returns the last count messages of a partition.
func (c *Cache) LatestMessages(ctx context.Context, name, topic string, partition int32, count int64) (iter.Seq2[cluster.Message, error], error) {
	if count <= 0 {
		return emptySeq, nil
	}

	wm, err := c.Watermarks(ctx, name, topic, partition)
	if err != nil {
		return nil, err
	}
	if wm.High <= wm.Low {
		return emptySeq, nil
	}
	return c.read(ctx, name, topic, partition, max(wm.High-count, wm.Low), wm.High-1)
}

// Invalidate drops the cached snapshot of a topic and the cluster's topic
// list.
func (c *Cache) Invalidate(name, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[name]++
	delete(c.entries, topicKey{name, topic})
	delete(c.lists, name)
	slog.Debug("topic cache invalidated", "cluster", name, "topic", topic)
}

// InvalidateCluster drops everything cached for a cluster.
func (c *Cache) InvalidateCluster(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[name]++
	delete(c.lists, name)
	for key := range c.entries {
		if key.cluster == name {
			delete(c.entries, key)
		}
	}
	slog.Debug("cluster cache invalidated", "cluster", name)
}

func (c *Cache) entry(ctx context.Context, name, topic string) (topicEntry, error) {
	key := topicKey{name, topic}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		out := *entry
		c.mu.Unlock()
		return out, nil
	}
	gen := c.gens[name]
	c.mu.Unlock()

	v, err := c.do(name, gen, "partitions", topic, func(src Source) (any, error) {
		partitions, err := src.Partitions(ctx, topic)
		if err != nil {
			return nil, err
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
		entry := topicEntry{partitions: partitions, fetchedAt: c.now()}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[name] == gen {
			stored := entry
			c.entries[key] = &stored
		}
		return entry, nil
	})
	if err != nil {
		return topicEntry{}, err
	}
	return v.(topicEntry), nil
}

func (c *Cache) marks(ctx context.Context, name, topic string) (map[int32]cluster.Watermark, error) {
	key := topicKey{name, topic}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && entry.marks != nil {
		out := copyMarks(entry.marks)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.gens[name]
	c.mu.Unlock()

	v, err := c.do(name, gen, "watermarks", topic, func(src Source) (any, error) {
		marks, err := src.Watermarks(ctx, topic)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[name] == gen {
			entry, ok := c.entries[key]
			if !ok {
				entry = &topicEntry{partitions: sortedPartitions(marks), fetchedAt: c.now()}
				c.entries[key] = entry
			}
			entry.marks = copyMarks(marks)
		}
		return marks, nil
	})
	if err != nil {
		return nil, err
	}
	return copyMarks(v.(map[int32]cluster.Watermark)), nil
}

// do coalesces identical fetches. The generation is part of the key so a
// caller that arrives after an invalidation never joins an older fetch.
func (c *Cache) do(name string, gen uint64, kind, topic string, fn func(Source) (any, error)) (any, error) {
	key := fmt.Sprintf("%s\x00%d\x00%s\x00%s", name, gen, kind, topic)
	v, err, _ := c.group.Do(key, func() (any, error) {
		src, err := c.resolver.Source(name)
		if err != nil {
			return nil, err
		}
		v, err := fn(src)
		if err != nil {
			return nil, fetchError(name, err)
		}
		return v, nil
	})
	return v, err
}

func (c *Cache) read(ctx context.Context, name, topic string, partition int32, from, to int64) (iter.Seq2[cluster.Message, error], error) {
	src, err := c.resolver.Source(name)
	if err != nil {
		return nil, err
	}
	return func(yield func(cluster.Message, error) bool) {
		for msg, err := range src.Messages(ctx, topic, partition, from, to) {
			if err != nil {
				yield(cluster.Message{}, fetchError(name, err))
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}, nil
}

// clamp narrows [from, to] to the offsets present in wm. It reports false
// when nothing is left.
func clamp(from, to int64, wm cluster.Watermark) (int64, int64, bool) {
	if from < wm.Low {
		from = wm.Low
	}
	if to > wm.High-1 {
		to = wm.High - 1
	}
	return from, to, from <= to
}

func fetchError(name string, err error) error {
	if errors.Is(err, cluster.ErrUnknownTopic) || errors.Is(err, cluster.ErrUnknownPartition) {
		return err
	}
	var connErr *cluster.ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	return &cluster.ConnectionError{Cluster: name, Status: cluster.Connected, Err: err}
}

func emptySeq(func(cluster.Message, error) bool) {}

func copyMarks(in map[int32]cluster.Watermark) map[int32]cluster.Watermark {
	out := make(map[int32]cluster.Watermark, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedPartitions(marks map[int32]cluster.Watermark) []int32 {
	ids := make([]int32, 0, len(marks))
	for id := range marks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
