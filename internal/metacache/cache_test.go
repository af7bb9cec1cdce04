package metacache

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/cluster/clustertest"
)

type staticResolver map[string]Source

func (r staticResolver) Source(name string) (Source, error) {
	src, ok := r[name]
	if !ok {
		return nil, &cluster.ConnectionError{Cluster: name, Status: cluster.Disconnected}
	}
	return src, nil
}

// gatedSource blocks ListTopics until release is closed.
type gatedSource struct {
	*clustertest.Session
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (g *gatedSource) ListTopics(ctx context.Context) ([]string, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.Session.ListTopics(ctx)
}

func newOrders(t *testing.T) (*Cache, *clustertest.Session) {
	t.Helper()

	sess := clustertest.NewSession(1, "")
	sess.AddTopic("orders", 2)
	sess.AddTopic("audit", 1)
	sess.Fill("orders", 0, 20)
	sess.Truncate("orders", 0, 10)
	return New(staticResolver{"prod": sess}), sess
}

func collect(t *testing.T, seq iter.Seq2[cluster.Message, error]) []int64 {
	t.Helper()

	var offsets []int64
	for msg, err := range seq {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		offsets = append(offsets, msg.Offset)
	}
	return offsets
}

func TestListTopicsCachedUntilInvalidated(t *testing.T) {
	cache, sess := newOrders(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		names, err := cache.ListTopics(ctx, "prod")
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
		if len(names) != 2 || names[0] != "audit" || names[1] != "orders" {
			t.Fatalf("topics = %v, want [audit orders]", names)
		}
	}
	if sess.TopicCalls() != 1 {
		t.Fatalf("source hit %d times, want 1", sess.TopicCalls())
	}

	cache.InvalidateCluster("prod")
	if _, err := cache.ListTopics(ctx, "prod"); err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if sess.TopicCalls() != 2 {
		t.Fatalf("source hit %d times after invalidation, want 2", sess.TopicCalls())
	}
}

func TestListTopicsReturnsCopy(t *testing.T) {
	cache, _ := newOrders(t)
	ctx := context.Background()

	names, err := cache.ListTopics(ctx, "prod")
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	names[0] = "mutated"

	again, _ := cache.ListTopics(ctx, "prod")
	if again[0] != "audit" {
		t.Fatalf("cache was mutated through a returned slice: %v", again)
	}
}

func TestPartitionsAndWatermarks(t *testing.T) {
	cache, sess := newOrders(t)
	ctx := context.Background()

	parts, err := cache.Partitions(ctx, "prod", "orders")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(parts) != 2 || parts[0] != 0 || parts[1] != 1 {
		t.Fatalf("partitions = %v, want [0 1]", parts)
	}

	wm, err := cache.Watermarks(ctx, "prod", "orders", 0)
	if err != nil {
		t.Fatalf("watermarks: %v", err)
	}
	if wm != (cluster.Watermark{Low: 10, High: 20}) {
		t.Fatalf("watermark = %+v, want 10..20", wm)
	}
	if _, err := cache.Watermarks(ctx, "prod", "orders", 1); err != nil {
		t.Fatalf("watermarks: %v", err)
	}
	if sess.WatermarkCalls() != 1 {
		t.Fatalf("watermarks fetched %d times, want 1 per topic", sess.WatermarkCalls())
	}
}

func TestSnapshot(t *testing.T) {
	cache, _ := newOrders(t)

	snap, err := cache.Snapshot(context.Background(), "prod", "orders")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Cluster != "prod" || snap.Topic != "orders" {
		t.Fatalf("unexpected snapshot identity: %+v", snap)
	}
	if len(snap.Partitions) != 2 || len(snap.Watermarks) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Watermarks[0].Depth() != 10 {
		t.Fatalf("depth = %d, want 10", snap.Watermarks[0].Depth())
	}
	if snap.FetchedAt.IsZero() {
		t.Fatalf("expected fetch time")
	}
}

func TestUnknownTopicAndPartition(t *testing.T) {
	cache, _ := newOrders(t)
	ctx := context.Background()

	if _, err := cache.Partitions(ctx, "prod", "missing"); !errors.Is(err, cluster.ErrUnknownTopic) {
		t.Fatalf("error = %v, want ErrUnknownTopic", err)
	}
	if _, err := cache.Watermarks(ctx, "prod", "orders", 7); !errors.Is(err, cluster.ErrUnknownPartition) {
		t.Fatalf("error = %v, want ErrUnknownPartition", err)
	}
	if _, err := cache.MessagesInRange(ctx, "prod", "orders", 7, 0, 10); !errors.Is(err, cluster.ErrUnknownPartition) {
		t.Fatalf("error = %v, want ErrUnknownPartition", err)
	}
}

func TestNotConnected(t *testing.T) {
	cache, _ := newOrders(t)

	_, err := cache.ListTopics(context.Background(), "staging")
	var connErr *cluster.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectionError", err)
	}
	if connErr.Cluster != "staging" {
		t.Fatalf("cluster = %q, want staging", connErr.Cluster)
	}
}

func TestFetchFailureIsConnectionError(t *testing.T) {
	cache, sess := newOrders(t)
	sess.FetchErr = errors.New("broker went away")

	_, err := cache.ListTopics(context.Background(), "prod")
	var connErr *cluster.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectionError", err)
	}
	if connErr.Err == nil || connErr.Err.Error() != "broker went away" {
		t.Fatalf("cause = %v, want broker went away", connErr.Err)
	}
}

func TestMessagesInRangeClamping(t *testing.T) {
	// orders/0 holds offsets 10..19.
	cases := []struct {
		name     string
		from, to int64
		want     []int64
	}{
		{name: "whole-range", from: 0, to: 100, want: []int64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}},
		{name: "inside", from: 12, to: 14, want: []int64{12, 13, 14}},
		{name: "single", from: 19, to: 19, want: []int64{19}},
		{name: "raised-to-low", from: 3, to: 11, want: []int64{10, 11}},
		{name: "lowered-to-high", from: 18, to: 40, want: []int64{18, 19}},
		{name: "inverted", from: 15, to: 12},
		{name: "above-high", from: 25, to: 30},
		{name: "at-high", from: 20, to: 20},
		{name: "below-low", from: 0, to: 9},
	}

	cache, _ := newOrders(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := cache.MessagesInRange(context.Background(), "prod", "orders", 0, tc.from, tc.to)
			if err != nil {
				t.Fatalf("messages: %v", err)
			}
			got := collect(t, seq)
			if len(got) != len(tc.want) {
				t.Fatalf("offsets = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("offsets = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestMessagesInRangeEmptyPartition(t *testing.T) {
	cache, _ := newOrders(t)

	seq, err := cache.MessagesInRange(context.Background(), "prod", "orders", 1, 0, 10)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if got := collect(t, seq); len(got) != 0 {
		t.Fatalf("offsets = %v, want none", got)
	}
}

func TestMessagesInRangeStopsEarly(t *testing.T) {
	cache, _ := newOrders(t)

	seq, err := cache.MessagesInRange(context.Background(), "prod", "orders", 0, 0, 100)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("read %d messages, want 3", n)
	}
}

func TestLatestMessages(t *testing.T) {
	cases := []struct {
		name  string
		count int64
		want  []int64
	}{
		{name: "tail", count: 3, want: []int64{17, 18, 19}},
		{name: "more-than-retained", count: 50, want: []int64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}},
		{name: "zero", count: 0},
	}

	cache, _ := newOrders(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := cache.LatestMessages(context.Background(), "prod", "orders", 0, tc.count)
			if err != nil {
				t.Fatalf("latest: %v", err)
			}
			got := collect(t, seq)
			if len(got) != len(tc.want) {
				t.Fatalf("offsets = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("offsets = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestInvalidateTopic(t *testing.T) {
	cache, sess := newOrders(t)
	ctx := context.Background()

	if _, err := cache.Watermarks(ctx, "prod", "orders", 0); err != nil {
		t.Fatalf("watermarks: %v", err)
	}
	sess.Fill("orders", 0, 5)

	wm, _ := cache.Watermarks(ctx, "prod", "orders", 0)
	if wm.High != 20 {
		t.Fatalf("high = %d, want cached 20", wm.High)
	}

	cache.Invalidate("prod", "orders")
	wm, err := cache.Watermarks(ctx, "prod", "orders", 0)
	if err != nil {
		t.Fatalf("watermarks: %v", err)
	}
	if wm.High != 25 {
		t.Fatalf("high = %d, want refreshed 25", wm.High)
	}
}

func TestConcurrentFetchesCoalesced(t *testing.T) {
	_, sess := newOrders(t)
	src := &gatedSource{Session: sess, entered: make(chan struct{}), release: make(chan struct{})}
	cache := New(staticResolver{"prod": src})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.ListTopics(context.Background(), "prod")
			errs <- err
		}()
	}

	<-src.entered
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("source hit %d times, want 1", got)
	}
}

func TestFetchBeforeInvalidationNotStored(t *testing.T) {
	_, sess := newOrders(t)
	src := &gatedSource{Session: sess, entered: make(chan struct{}), release: make(chan struct{})}
	cache := New(staticResolver{"prod": src})

	done := make(chan error, 1)
	go func() {
		_, err := cache.ListTopics(context.Background(), "prod")
		done <- err
	}()

	<-src.entered
	cache.InvalidateCluster("prod")
	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("list topics: %v", err)
	}

	if _, err := cache.ListTopics(context.Background(), "prod"); err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("source hit %d times, want 2 (stale result must not be cached)", got)
	}
}
