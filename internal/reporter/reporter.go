package reporter

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/metacache"
	"github.com/ppiankov/kafkadeck/internal/registry"
)

// ClusterView joins a registered profile with its connection state.
type ClusterView struct {
	Name         string         `json:"name"`
	Brokers      []string       `json:"brokers"`
	Default      bool           `json:"default"`
	KafkaVersion string         `json:"kafka_version,omitempty"`
	Status       cluster.Status `json:"status"`
	Since        time.Time      `json:"since"`
	Error        string         `json:"error,omitempty"`
	BrokerCount  int            `json:"broker_count,omitempty"`
}

// Views pairs every profile with its state. Profiles without a state are
// reported as Disconnected.
func Views(profiles []registry.Profile, states []cluster.State) []ClusterView {
	byName := make(map[string]cluster.State, len(states))
	for _, st := range states {
		byName[st.Cluster] = st
	}

	views := make([]ClusterView, 0, len(profiles))
	for _, p := range profiles {
		st := byName[p.Name]
		views = append(views, ClusterView{
			Name:         p.Name,
			Brokers:      p.Brokers,
			Default:      p.ConnectByDefault,
			KafkaVersion: p.KafkaVersion,
			Status:       st.Status,
			Since:        st.Since,
			Error:        st.Error,
			BrokerCount:  st.BrokerCount,
		})
	}
	return views
}

// Reporter renders cluster and topic data for the CLI.
type Reporter interface {
	Clusters(ctx context.Context, views []ClusterView) error
	States(ctx context.Context, states []cluster.State) error
	StateChange(ctx context.Context, change cluster.StateChange) error
	Topics(ctx context.Context, clusterName string, topics []string) error
	Snapshot(ctx context.Context, snap metacache.TopicSnapshot) error
	Messages(ctx context.Context, msgs iter.Seq2[cluster.Message, error]) error
	Produced(ctx context.Context, msg cluster.Message) error
	TopicConfig(ctx context.Context, topic string, values map[string]string) error
	Groups(ctx context.Context, clusterName string, groups []cluster.Group) error
	GroupLag(ctx context.Context, group string, offsets []cluster.GroupOffset) error
}

// New returns the reporter for format ("text" or "json").
func New(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "", "text":
		return NewTextReporter(w), nil
	case "json":
		return NewJSONReporter(w, true), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (use text or json)", format)
	}
}
