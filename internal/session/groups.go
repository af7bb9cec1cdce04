package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/kafkadeck/internal/cluster"
)

// ConsumerGroups lists the consumer groups of a connected cluster.
func (c *Coordinator) ConsumerGroups(ctx context.Context, name string) ([]cluster.Group, error) {
	sess, err := c.session(name)
	if err != nil {
		return nil, err
	}
	groups, err := sess.ConsumerGroups(ctx)
	if err != nil {
		return nil, groupError(name, err)
	}
	return groups, nil
}

// GroupLag returns the committed offsets and lag of one consumer group.
func (c *Coordinator) GroupLag(ctx context.Context, name, group string) ([]cluster.GroupOffset, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, fmt.Errorf("%w: group name is required", cluster.ErrUnknownGroup)
	}
	sess, err := c.session(name)
	if err != nil {
		return nil, err
	}
	offsets, err := sess.GroupLag(ctx, group)
	if err != nil {
		return nil, groupError(name, err)
	}
	return offsets, nil
}

func groupError(name string, err error) error {
	if errors.Is(err, cluster.ErrUnknownGroup) {
		return err
	}
	return &cluster.ConnectionError{Cluster: name, Status: cluster.Connected, Err: err}
}
