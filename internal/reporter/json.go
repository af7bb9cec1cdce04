package reporter

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/metacache"
)

// JSONReporter generates JSON reports
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

func (r *JSONReporter) write(v any) error {
	var output []byte
	var err error

	if r.pretty {
		output, err = json.MarshalIndent(v, "", "  ")
	} else {
		output, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	_, err = r.writer.Write(output)
	if err != nil {
		return err
	}

	// Add newline at the end
	_, err = r.writer.Write([]byte("\n"))
	return err
}

// Clusters writes the cluster list as an array.
func (r *JSONReporter) Clusters(ctx context.Context, views []ClusterView) error {
	if views == nil {
		views = []ClusterView{}
	}
	return r.write(views)
}

// States writes the states as an array.
func (r *JSONReporter) States(ctx context.Context, states []cluster.State) error {
	if states == nil {
		states = []cluster.State{}
	}
	return r.write(states)
}

type stateChange struct {
	From cluster.Status `json:"from"`
	cluster.State
}

// StateChange writes one compact object per transition.
func (r *JSONReporter) StateChange(ctx context.Context, change cluster.StateChange) error {
	return json.NewEncoder(r.writer).Encode(stateChange{From: change.From, State: change.State})
}

// Topics writes the topic names of a cluster.
func (r *JSONReporter) Topics(ctx context.Context, clusterName string, topics []string) error {
	if topics == nil {
		topics = []string{}
	}
	return r.write(struct {
		Cluster string   `json:"cluster"`
		Topics  []string `json:"topics"`
	}{clusterName, topics})
}

// Snapshot writes a topic snapshot.
func (r *JSONReporter) Snapshot(ctx context.Context, snap metacache.TopicSnapshot) error {
	return r.write(snap)
}

// Messages writes one compact object per message so output starts before
// the range is exhausted. Keys and values are base64 encoded.
func (r *JSONReporter) Messages(ctx context.Context, msgs iter.Seq2[cluster.Message, error]) error {
	enc := json.NewEncoder(r.writer)
	for msg, err := range msgs {
		if err != nil {
			return err
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

// Produced writes the position of a produced record.
func (r *JSONReporter) Produced(ctx context.Context, msg cluster.Message) error {
	return r.write(struct {
		Topic     string    `json:"topic"`
		Partition int32     `json:"partition"`
		Offset    int64     `json:"offset"`
		Timestamp time.Time `json:"timestamp"`
	}{msg.Topic, msg.Partition, msg.Offset, msg.Timestamp})
}

// TopicConfig writes the config entries of a topic.
func (r *JSONReporter) TopicConfig(ctx context.Context, topic string, values map[string]string) error {
	if values == nil {
		values = map[string]string{}
	}
	return r.write(struct {
		Topic   string            `json:"topic"`
		Configs map[string]string `json:"configs"`
	}{topic, values})
}

// Groups writes the consumer groups of a cluster.
func (r *JSONReporter) Groups(ctx context.Context, clusterName string, groups []cluster.Group) error {
	if groups == nil {
		groups = []cluster.Group{}
	}
	return r.write(struct {
		Cluster string          `json:"cluster"`
		Groups  []cluster.Group `json:"groups"`
	}{clusterName, groups})
}

// GroupLag writes the committed offsets of a group.
func (r *JSONReporter) GroupLag(ctx context.Context, group string, offsets []cluster.GroupOffset) error {
	if offsets == nil {
		offsets = []cluster.GroupOffset{}
	}
	return r.write(struct {
		Group   string                `json:"group"`
		Offsets []cluster.GroupOffset `json:"offsets"`
	}{group, offsets})
}
