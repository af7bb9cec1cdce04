package session

import (
	"context"
	"errors"
	"strings"

	"github.com/ppiankov/kafkadeck/internal/cluster"
)

var errTopicRequired = errors.New("topic name is required")

// CreateTopic creates a topic on a connected cluster.
func (c *Coordinator) CreateTopic(ctx context.Context, name string, spec cluster.TopicSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	sess, err := c.topicSession(name, "create", spec.Name)
	if err != nil {
		return err
	}
	if err := sess.CreateTopic(ctx, spec); err != nil {
		return &TopicOperationError{Op: "create", Cluster: name, Topic: spec.Name, Err: err}
	}
	c.cache.Invalidate(name, spec.Name)
	return nil
}

// DeleteTopic deletes a topic from a connected cluster.
func (c *Coordinator) DeleteTopic(ctx context.Context, name, topic string) error {
	sess, err := c.topicSession(name, "delete", topic)
	if err != nil {
		return err
	}
	if err := sess.DeleteTopic(ctx, topic); err != nil {
		return &TopicOperationError{Op: "delete", Cluster: name, Topic: topic, Err: err}
	}
	c.cache.Invalidate(name, topic)
	return nil
}

// DescribeTopicConfig returns the non-default config entries of a topic.
func (c *Coordinator) DescribeTopicConfig(ctx context.Context, name, topic string) (map[string]string, error) {
	sess, err := c.topicSession(name, "describe config of", topic)
	if err != nil {
		return nil, err
	}
	values, err := sess.DescribeTopicConfig(ctx, topic)
	if err != nil {
		return nil, &TopicOperationError{Op: "describe config of", Cluster: name, Topic: topic, Err: err}
	}
	return values, nil
}

// AlterTopicConfig sets config entries on a topic. Empty values restore the
// broker default.
func (c *Coordinator) AlterTopicConfig(ctx context.Context, name, topic string, values map[string]string) error {
	sess, err := c.topicSession(name, "alter config of", topic)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := sess.AlterTopicConfig(ctx, topic, values); err != nil {
		return &TopicOperationError{Op: "alter config of", Cluster: name, Topic: topic, Err: err}
	}
	c.cache.Invalidate(name, topic)
	return nil
}

// Produce writes one record. A negative partition lets the key pick it.
func (c *Coordinator) Produce(ctx context.Context, name string, rec cluster.Record) (cluster.Message, error) {
	sess, err := c.topicSession(name, "produce to", rec.Topic)
	if err != nil {
		return cluster.Message{}, err
	}
	msg, err := sess.Produce(ctx, rec)
	if err != nil {
		return cluster.Message{}, &TopicOperationError{Op: "produce to", Cluster: name, Topic: rec.Topic, Err: err}
	}
	c.cache.Invalidate(name, rec.Topic)
	return msg, nil
}

func (c *Coordinator) topicSession(name, op, topic string) (cluster.Session, error) {
	if topic == "" {
		return nil, &TopicOperationError{Op: op, Cluster: name, Topic: topic, Err: errTopicRequired}
	}
	return c.session(name)
}
