package kafka

import (
	"fmt"
	"sort"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

func partitionIDs(details kadm.PartitionDetails) []int32 {
	ids := make([]int32, 0, len(details))
	for id := range details {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// mergeWatermarks pairs the start and end offsets of each partition.
func mergeWatermarks(topic string, starts, ends map[int32]kadm.ListedOffset) (map[int32]cluster.Watermark, error) {
	if len(starts) == 0 && len(ends) == 0 {
		return nil, fmt.Errorf("%w: %q", cluster.ErrUnknownTopic, topic)
	}

	out := make(map[int32]cluster.Watermark, len(ends))
	for partition, end := range ends {
		if end.Err != nil {
			return nil, fmt.Errorf("end offset of %s/%d: %w", topic, partition, end.Err)
		}
		start, ok := starts[partition]
		if !ok {
			return nil, fmt.Errorf("start offset of %s/%d missing", topic, partition)
		}
		if start.Err != nil {
			return nil, fmt.Errorf("start offset of %s/%d: %w", topic, partition, start.Err)
		}
		out[partition] = cluster.Watermark{Low: start.Offset, High: end.Offset}
	}
	return out, nil
}

func toMessage(rec *kgo.Record) cluster.Message {
	msg := cluster.Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Timestamp: rec.Timestamp,
	}
	if len(rec.Headers) > 0 {
		msg.Headers = make([]cluster.Header, len(rec.Headers))
		for i, h := range rec.Headers {
			msg.Headers[i] = cluster.Header{Key: h.Key, Value: h.Value}
		}
	}
	return msg
}

func toRecord(rec cluster.Record) *kgo.Record {
	out := &kgo.Record{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Value,
	}
	if rec.Partition >= 0 {
		out.Partition = rec.Partition
	}
	for _, h := range rec.Headers {
		out.Headers = append(out.Headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}
	return out
}

func strPtr(s string) *string {
	return &s
}

// cursor tracks the next offset to read from a partition up to an inclusive
// end offset.
type cursor struct {
	next int64
	to   int64
}

// accept moves the cursor past offset and reports whether the record there
// should be yielded. Control records and offsets already read are skipped.
func (c *cursor) accept(offset int64, control bool) bool {
	if offset < c.next {
		return false
	}
	c.next = offset + 1
	return !control
}

// drained ends the read once the cursor reaches the high watermark, since
// compaction can leave gaps before it.
func (c *cursor) drained(highWatermark int64) {
	if highWatermark > 0 && c.next >= highWatermark {
		c.next = c.to + 1
	}
}

func (c *cursor) done() bool {
	return c.next > c.to
}

func toGroup(l kadm.DescribedGroupLag) cluster.Group {
	g := cluster.Group{
		ID:           l.Group,
		State:        l.State,
		ProtocolType: l.ProtocolType,
		Protocol:     l.Protocol,
		Members:      len(l.Members),
		Coordinator:  l.Coordinator.NodeID,
		Lag:          l.Lag.Total(),
	}
	for topic := range l.Lag {
		g.Topics = append(g.Topics, topic)
	}
	sort.Strings(g.Topics)
	return g
}

func groupOffsets(l kadm.DescribedGroupLag) []cluster.GroupOffset {
	sorted := l.Lag.Sorted()
	out := make([]cluster.GroupOffset, 0, len(sorted))
	for _, m := range sorted {
		off := cluster.GroupOffset{
			Group:     l.Group,
			Topic:     m.Topic,
			Partition: m.Partition,
			Committed: m.Commit.At,
			End:       m.End.Offset,
			Lag:       m.Lag,
		}
		if m.Member != nil {
			off.Member = m.Member.MemberID
			off.Client = m.Member.ClientID
		}
		out = append(out, off)
	}
	return out
}

// isDeadGroup reports a group the coordinator has no record of. Describing
// an unknown group id returns it in the Dead state rather than an error.
func isDeadGroup(l kadm.DescribedGroupLag) bool {
	return l.State == "Dead" && len(l.Members) == 0 && len(l.Lag) == 0
}
