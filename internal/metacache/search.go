package metacache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/ppiankov/kafkadeck/internal/cluster"
)

// ErrInvalidSearch is returned for a search without a pattern or without a
// field to look in.
var ErrInvalidSearch = errors.New("invalid message search")

// Search selects messages whose key or value contains Pattern, ignoring
// case. Limit caps the number of matches; zero means no cap.
type Search struct {
	Pattern string
	InKey   bool
	InValue bool
	Limit   int
}

// Validate reports whether the search can match anything.
func (s Search) Validate() error {
	switch {
	case s.Pattern == "":
		return fmt.Errorf("%w: pattern is required", ErrInvalidSearch)
	case !s.InKey && !s.InValue:
		return fmt.Errorf("%w: search the key, the value or both", ErrInvalidSearch)
	case s.Limit < 0:
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidSearch)
	}
	return nil
}

// Match reports whether msg satisfies the search. Null keys and values never
// match.
func (s Search) Match(msg cluster.Message) bool {
	return s.matcher()(msg)
}

func (s Search) matcher() func(cluster.Message) bool {
	pattern := bytes.ToLower([]byte(s.Pattern))
	return func(msg cluster.Message) bool {
		return (s.InKey && containsFold(msg.Key, pattern)) ||
			(s.InValue && containsFold(msg.Value, pattern))
	}
}

// SearchMessages returns the messages of a partition with offsets in
// [from, to] that match q, in offset order. Reading stops once q.Limit
// matches have been yielded.
func (c *Cache) SearchMessages(ctx context.Context, name, topic string, partition int32, from, to int64, q Search) (iter.Seq2[cluster.Message, error], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	msgs, err := c.MessagesInRange(ctx, name, topic, partition, from, to)
	if err != nil {
		return nil, err
	}

	match := q.matcher()
	return func(yield func(cluster.Message, error) bool) {
		found := 0
		for msg, err := range msgs {
			if err != nil {
				yield(cluster.Message{}, err)
				return
			}
			if !match(msg) {
				continue
			}
			if !yield(msg, nil) {
				return
			}
			found++
			if q.Limit > 0 && found >= q.Limit {
				return
			}
		}
	}, nil
}

func containsFold(b, lowerPattern []byte) bool {
	return b != nil && bytes.Contains(bytes.ToLower(b), lowerPattern)
}
