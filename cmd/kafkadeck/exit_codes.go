package main

import (
	"errors"
	"strings"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/metacache"
	"github.com/ppiankov/kafkadeck/internal/registry"
	"github.com/ppiankov/kafkadeck/internal/session"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitSuccess        = 0
	ExitError          = 1
	ExitUsage          = 2
	ExitConnection     = 3
	ExitNotFound       = 4
	ExitTopicOperation = 5
)

// usageError marks bad flags, arguments or config.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usageErr(err error) error {
	if err == nil {
		return nil
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return err
	}
	return &usageError{err: err}
}

func classifyError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		topicErr *session.TopicOperationError
		connErr  *cluster.ConnectionError
		dupErr   *registry.DuplicateNameError
		useErr   *usageError
	)
	switch {
	case errors.As(err, &topicErr):
		return ExitTopicOperation
	case errors.As(err, &useErr), errors.Is(err, metacache.ErrInvalidSearch):
		return ExitUsage
	case errors.As(err, &dupErr),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, session.ErrUnknownCluster),
		errors.Is(err, cluster.ErrUnknownTopic),
		errors.Is(err, cluster.ErrUnknownPartition),
		errors.Is(err, cluster.ErrUnknownGroup):
		return ExitNotFound
	case errors.As(err, &connErr):
		return ExitConnection
	}

	// cobra reports these without a typed error.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unknown command"),
		strings.Contains(msg, "unknown flag"),
		strings.Contains(msg, "required flag"):
		return ExitUsage
	default:
		return ExitError
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageErr(cobra.ExactArgs(n)(cmd, args))
	}
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageErr(cobra.RangeArgs(lo, hi)(cmd, args))
	}
}
