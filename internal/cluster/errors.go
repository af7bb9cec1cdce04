package cluster

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotTracked is returned for cluster names the machine does not know.
var ErrNotTracked = errors.New("cluster not tracked")

// ConnectionError reports a cluster that is not connected or whose brokers
// could not be reached. Callers may retry.
type ConnectionError struct {
	Cluster string
	Status  Status
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cluster %q is not connected (status %s)", e.Cluster, e.Status)
	}
	return fmt.Sprintf("cluster %q: %v", e.Cluster, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnknownTopic is returned when a topic does not exist on the cluster.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrUnknownPartition is returned for a partition the topic does not have.
	ErrUnknownPartition = errors.New("unknown partition")
	// ErrUnknownGroup is returned for a consumer group the cluster does not
	// know.
	ErrUnknownGroup = errors.New("unknown consumer group")
)
