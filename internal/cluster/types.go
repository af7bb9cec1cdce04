package cluster

import (
	"context"
	"iter"
	"time"
)

// Dialer opens a session against a broker list. It is the only way the core
// reaches a Kafka cluster.
type Dialer interface {
	Dial(ctx context.Context, brokers []string) (Session, error)
}

// Session is an open connection to one cluster. Every call is bounded by the
// context it receives and reports collaborator failures as plain errors.
type Session interface {
	Metadata(ctx context.Context) (Metadata, error)
	KafkaVersion(ctx context.Context) (string, error)
	ListTopics(ctx context.Context) ([]string, error)
	Partitions(ctx context.Context, topic string) ([]int32, error)
	Watermarks(ctx context.Context, topic string) (map[int32]Watermark, error)
	Messages(ctx context.Context, topic string, partition int32, from, to int64) iter.Seq2[Message, error]
	Produce(ctx context.Context, rec Record) (Message, error)
	CreateTopic(ctx context.Context, spec TopicSpec) error
	DeleteTopic(ctx context.Context, topic string) error
	DescribeTopicConfig(ctx context.Context, topic string) (map[string]string, error)
	AlterTopicConfig(ctx context.Context, topic string, values map[string]string) error
	ConsumerGroups(ctx context.Context) ([]Group, error)
	GroupLag(ctx context.Context, group string) ([]GroupOffset, error)
	Close()
}

// Metadata is the broker and topic layout returned by a metadata request.
type Metadata struct {
	ClusterID  string
	Controller int32
	Brokers    []Broker
	Topics     map[string][]int32 // topic -> sorted partition ids
	FetchedAt  time.Time
}

// Broker describes one broker from a metadata response.
type Broker struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int32  `json:"port"`
	Rack string `json:"rack,omitempty"`
}

// Watermark holds the first available offset and the next offset to be
// written for a partition.
type Watermark struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Depth is the number of messages currently retained between the watermarks.
func (w Watermark) Depth() int64 {
	if w.High <= w.Low {
		return 0
	}
	return w.High - w.Low
}

// Header is a single record header.
type Header struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Message is a record read from a partition.
type Message struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Value     []byte    `json:"value,omitempty"`
	Headers   []Header  `json:"headers,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a message to be produced. A negative Partition lets the client
// pick the partition from the key.
type Record struct {
	Topic     string
	Partition int32
	Key       []byte
	Value     []byte
	Headers   []Header
}

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]string
}

// Group summarises a consumer group and its total lag.
type Group struct {
	ID           string   `json:"group"`
	State        string   `json:"state"`
	ProtocolType string   `json:"protocol_type,omitempty"`
	Protocol     string   `json:"protocol,omitempty"`
	Members      int      `json:"members"`
	Coordinator  int32    `json:"coordinator"`
	Topics       []string `json:"topics,omitempty"`
	Lag          int64    `json:"lag"`
}

// GroupOffset is the committed position of a group on one partition. Lag is
// -1 when the commit or the end offset could not be read.
type GroupOffset struct {
	Group     string `json:"group"`
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Committed int64  `json:"committed"`
	End       int64  `json:"end"`
	Lag       int64  `json:"lag"`
	Member    string `json:"member,omitempty"`
	Client    string `json:"client,omitempty"`
}
