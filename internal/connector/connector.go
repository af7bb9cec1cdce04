package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/registry"
)

// DefaultTimeout bounds a connect attempt when none is configured.
const DefaultTimeout = 5 * time.Second

// Outcome is the result of one connect attempt.
type Outcome struct {
	Success      bool   `json:"success"`
	BrokerCount  int    `json:"broker_count"`
	KafkaVersion string `json:"kafka_version,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Connector opens sessions to cluster profiles. It never returns an error:
// every failure is reported through Outcome.
type Connector struct {
	dialer  cluster.Dialer
	timeout time.Duration
}

// New returns a connector using dialer. A non-positive timeout selects
// DefaultTimeout.
func New(dialer cluster.Dialer, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connector{dialer: dialer, timeout: timeout}
}

// Timeout returns the bound applied to each attempt.
func (c *Connector) Timeout() time.Duration {
	return c.timeout
}

// Connect dials the profile's brokers, fetches metadata and reports the
// result. On success the caller owns the returned session.
func (c *Connector) Connect(ctx context.Context, p registry.Profile) (out Outcome, sess cluster.Session) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			if sess != nil {
				sess.Close()
			}
			slog.Error("connector panic", "cluster", p.Name, "panic", r)
			out, sess = Outcome{Error: fmt.Sprintf("internal error: %v", r)}, nil
		}
	}()

	start := time.Now()
	sess, err := c.dialer.Dial(ctx, p.Brokers)
	if err != nil {
		return failure(ctx, p.Name, err), nil
	}

	meta, err := sess.Metadata(ctx)
	if err != nil {
		sess.Close()
		return failure(ctx, p.Name, err), nil
	}

	out = Outcome{Success: true, BrokerCount: len(meta.Brokers)}
	if version, err := sess.KafkaVersion(ctx); err != nil {
		slog.Debug("kafka version unavailable", "cluster", p.Name, "error", err)
	} else {
		out.KafkaVersion = version
	}

	slog.Debug("cluster connected",
		"cluster", p.Name,
		"brokers", out.BrokerCount,
		"version", out.KafkaVersion,
		"elapsed", time.Since(start),
	)
	return out, sess
}

func failure(ctx context.Context, name string, err error) Outcome {
	msg := err.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("timed out: %s", msg)
	}
	if msg == "" {
		msg = "connection failed"
	}
	slog.Debug("cluster connect failed", "cluster", name, "error", msg)
	return Outcome{Error: msg}
}
