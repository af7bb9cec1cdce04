package reporter

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/metacache"
)

// maxInlinePayload is the longest key or value printed verbatim.
const maxInlinePayload = 120

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// Clusters lists every registered cluster with its state.
func (r *TextReporter) Clusters(ctx context.Context, views []ClusterView) error {
	w := newWriter(r.writer)

	if len(views) == 0 {
		w.f("No clusters registered. Add one with: kafkadeck cluster add <name> --brokers host:port\n")
		return w.err
	}

	w.f("Clusters: %d\n", len(views))
	w.f("===========\n\n")
	for _, v := range views {
		marker := " "
		if v.Default {
			marker = "*"
		}
		w.f("%s %-20s %-12s %s\n", marker, v.Name, v.Status, strings.Join(v.Brokers, ","))
		if v.KafkaVersion != "" {
			w.f("    Kafka: %s\n", v.KafkaVersion)
		}
		if v.Status == cluster.Connected {
			w.f("    Brokers online: %d\n", v.BrokerCount)
		}
		if v.Error != "" {
			w.f("    Error: %s\n", v.Error)
		}
	}
	return w.err
}

// States prints one line per cluster state.
func (r *TextReporter) States(ctx context.Context, states []cluster.State) error {
	w := newWriter(r.writer)
	for _, st := range states {
		w.f("%-20s %-12s %s", st.Cluster, st.Status, humanize.Time(st.Since))
		switch st.Status {
		case cluster.Connected:
			w.f("  (%d brokers)", st.BrokerCount)
		case cluster.Failed:
			w.f("  error: %s", st.Error)
		}
		w.f("\n")
	}
	return w.err
}

// StateChange prints a single transition.
func (r *TextReporter) StateChange(ctx context.Context, change cluster.StateChange) error {
	w := newWriter(r.writer)
	st := change.State
	w.f("%s  %-20s %s -> %s", st.Since.Format("15:04:05.000"), st.Cluster, change.From, st.Status)
	if st.Error != "" {
		w.f("  (%s)", st.Error)
	}
	w.f("\n")
	return w.err
}

// Topics lists topic names.
func (r *TextReporter) Topics(ctx context.Context, clusterName string, topics []string) error {
	w := newWriter(r.writer)
	w.f("Topics on %s: %d\n", clusterName, len(topics))
	for _, name := range topics {
		w.f("  %s\n", name)
	}
	return w.err
}

// Snapshot prints the partitions of a topic with their watermarks.
func (r *TextReporter) Snapshot(ctx context.Context, snap metacache.TopicSnapshot) error {
	w := newWriter(r.writer)

	var total int64
	for _, wm := range snap.Watermarks {
		total += wm.Depth()
	}

	w.f("[Topic] %s on %s\n", snap.Topic, snap.Cluster)
	w.f("  Partitions: %d\n", len(snap.Partitions))
	w.f("  Messages retained: %s\n\n", humanize.Comma(total))
	w.f("  %-10s %15s %15s %15s\n", "PARTITION", "LOW", "HIGH", "DEPTH")

	partitions := append([]int32(nil), snap.Partitions...)
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
	for _, p := range partitions {
		wm := snap.Watermarks[p]
		w.f("  %-10d %15s %15s %15s\n", p, humanize.Comma(wm.Low), humanize.Comma(wm.High), humanize.Comma(wm.Depth()))
	}
	return w.err
}

// Messages prints messages as they are read.
func (r *TextReporter) Messages(ctx context.Context, msgs iter.Seq2[cluster.Message, error]) error {
	w := newWriter(r.writer)

	count := 0
	for msg, err := range msgs {
		if err != nil {
			return err
		}
		count++
		w.f("%d/%d  %s  key=%s  %s\n", msg.Partition, msg.Offset,
			msg.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), payload(msg.Key), payload(msg.Value))
		for _, h := range msg.Headers {
			w.f("    %s: %s\n", h.Key, payload(h.Value))
		}
		if w.err != nil {
			return w.err
		}
	}
	if count == 0 {
		w.f("No messages in range.\n")
	}
	return w.err
}

// Produced prints where a record was written.
func (r *TextReporter) Produced(ctx context.Context, msg cluster.Message) error {
	w := newWriter(r.writer)
	w.f("Produced to %s partition %d at offset %d\n", msg.Topic, msg.Partition, msg.Offset)
	return w.err
}

// TopicConfig prints config entries sorted by key.
func (r *TextReporter) TopicConfig(ctx context.Context, topic string, values map[string]string) error {
	w := newWriter(r.writer)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.f("Config of %s (non-default entries: %d)\n", topic, len(keys))
	for _, k := range keys {
		w.f("  %s = %s\n", k, values[k])
	}
	return w.err
}

// Groups lists consumer groups with their total lag.
func (r *TextReporter) Groups(ctx context.Context, clusterName string, groups []cluster.Group) error {
	w := newWriter(r.writer)
	w.f("Consumer groups on %s: %d\n", clusterName, len(groups))
	if len(groups) == 0 {
		return w.err
	}

	w.f("\n  %-30s %-20s %8s %15s  %s\n", "GROUP", "STATE", "MEMBERS", "LAG", "TOPICS")
	for _, g := range groups {
		w.f("  %-30s %-20s %8d %15s  %s\n", g.ID, g.State, g.Members, lagString(g.Lag), strings.Join(g.Topics, ","))
	}
	return w.err
}

// GroupLag prints the committed offset and lag of every partition of a
// group.
func (r *TextReporter) GroupLag(ctx context.Context, group string, offsets []cluster.GroupOffset) error {
	w := newWriter(r.writer)

	var total int64
	for _, off := range offsets {
		if off.Lag > 0 {
			total += off.Lag
		}
	}

	w.f("[Group] %s\n", group)
	w.f("  Partitions: %d\n", len(offsets))
	w.f("  Total lag: %s\n\n", humanize.Comma(total))
	w.f("  %-30s %-10s %15s %15s %15s  %s\n", "TOPIC", "PARTITION", "COMMITTED", "END", "LAG", "MEMBER")
	for _, off := range offsets {
		member := off.Member
		if member == "" {
			member = "-"
		}
		w.f("  %-30s %-10d %15s %15s %15s  %s\n", off.Topic, off.Partition,
			humanize.Comma(off.Committed), humanize.Comma(off.End), lagString(off.Lag), member)
	}
	return w.err
}

func lagString(lag int64) string {
	if lag < 0 {
		return "unknown"
	}
	return humanize.Comma(lag)
}

// payload renders a key or value: short UTF-8 text verbatim, anything else
// by size.
func payload(b []byte) string {
	switch {
	case b == nil:
		return "<null>"
	case !utf8.Valid(b):
		return fmt.Sprintf("<%s binary>", humanize.Bytes(uint64(len(b))))
	case len(b) > maxInlinePayload:
		return fmt.Sprintf("%q... (%s)", b[:maxInlinePayload], humanize.Bytes(uint64(len(b))))
	default:
		return fmt.Sprintf("%q", b)
	}
}

// textWriter keeps the first write error so callers can check once.
type textWriter struct {
	w   io.Writer
	err error
}

func newWriter(w io.Writer) *textWriter {
	return &textWriter{w: w}
}

func (t *textWriter) f(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}
