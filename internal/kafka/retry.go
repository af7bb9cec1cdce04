package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 4 * time.Second
)

// isAuthError returns true for errors that indicate SASL authentication or
// authorization failures. Retrying them will not help.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke {
		case kerr.SaslAuthenticationFailed,
			kerr.UnsupportedSaslMechanism,
			kerr.IllegalSaslState,
			kerr.TopicAuthorizationFailed,
			kerr.ClusterAuthorizationFailed,
			kerr.GroupAuthorizationFailed,
			kerr.TransactionalIDAuthorizationFailed:
			return true
		}
	}

	var eof *kgo.ErrFirstReadEOF
	return errors.As(err, &eof)
}

// isRetryable returns true for transient broker errors where a retry might
// succeed: timeouts, broker restarts, temporary leader unavailability.
func isRetryable(err error) bool {
	if err == nil || isAuthError(err) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Kafka protocol errors with retriable flag
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}

	// Network-level: connection closed, EOF after established connection
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	// Dial timeouts are retryable; connection-refused is not
	var ne *net.OpError
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return false
}

// newBackOff returns the schedule used between attempts: 500ms doubling up
// to 4s, at most maxRetries retries.
func newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// withRetry executes fn up to maxRetries+1 times with exponential backoff.
// Auth errors fail immediately. Context cancellation stops retries.
func withRetry(ctx context.Context, desc string, fn func() error) error {
	var (
		lastErr error
		attempt int
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, newBackOff(ctx), func(err error, wait time.Duration) {
		slog.Warn("retrying after transient error",
			"operation", desc,
			"attempt", attempt,
			"max_attempts", maxRetries+1,
			"backoff", wait,
			"error", err,
		)
	})
	if err == nil {
		return nil
	}

	if !isRetryable(lastErr) {
		return lastErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w (last error: %w)", desc, ctxErr, lastErr)
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", desc, attempt, lastErr)
}
