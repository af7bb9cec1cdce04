package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCluster is returned for names that are not registered.
	ErrUnknownCluster = errors.New("unknown cluster")
	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = errors.New("coordinator closed")

	errStaleAttempt = errors.New("stale connect attempt")
)

// TopicOperationError reports a failed create, delete, config or produce
// call against a connected cluster.
type TopicOperationError struct {
	Op      string
	Cluster string
	Topic   string
	Err     error
}

func (e *TopicOperationError) Error() string {
	return fmt.Sprintf("%s %q on cluster %q: %v", e.Op, e.Topic, e.Cluster, e.Err)
}

func (e *TopicOperationError) Unwrap() error {
	return e.Err
}
