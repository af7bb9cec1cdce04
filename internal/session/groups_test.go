package session

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/kafkadeck/internal/cluster"
)

func TestConsumerGroups(t *testing.T) {
	c, _, prod := newFleet(t)
	prod.Fill("orders", 0, 10)
	prod.Fill("orders", 1, 4)
	prod.Commit("billing", "orders", 0, 7)
	prod.Commit("billing", "orders", 1, 4)
	prod.Commit("audit", "orders", 0, 10)
	connect(t, c, "prod")

	groups, err := c.ConsumerGroups(context.Background(), "prod")
	if err != nil {
		t.Fatalf("consumer groups: %v", err)
	}
	if len(groups) != 2 || groups[0].ID != "audit" || groups[1].ID != "billing" {
		t.Fatalf("groups = %+v, want audit and billing", groups)
	}
	if groups[0].Lag != 0 || groups[1].Lag != 3 {
		t.Fatalf("lags = %d/%d, want 0/3", groups[0].Lag, groups[1].Lag)
	}
	if len(groups[1].Topics) != 1 || groups[1].Topics[0] != "orders" {
		t.Fatalf("billing topics = %v, want [orders]", groups[1].Topics)
	}
}

func TestGroupLag(t *testing.T) {
	c, _, prod := newFleet(t)
	prod.Fill("orders", 0, 10)
	prod.Commit("billing", "orders", 1, 0)
	prod.Commit("billing", "orders", 0, 6)
	connect(t, c, "prod")
	ctx := context.Background()

	offsets, err := c.GroupLag(ctx, "prod", " billing ")
	if err != nil {
		t.Fatalf("group lag: %v", err)
	}
	want := []cluster.GroupOffset{
		{Group: "billing", Topic: "orders", Partition: 0, Committed: 6, End: 10, Lag: 4},
		{Group: "billing", Topic: "orders", Partition: 1, Committed: 0, End: 0, Lag: 0},
	}
	if len(offsets) != len(want) {
		t.Fatalf("offsets = %+v, want %+v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("offsets[%d] = %+v, want %+v", i, offsets[i], want[i])
		}
	}
}

func TestGroupErrors(t *testing.T) {
	c, _, prod := newFleet(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		cluster string
		group   string
		setup   func()
		check   func(error) bool
	}{
		{
			name:    "not-connected",
			cluster: "prod",
			group:   "billing",
			check: func(err error) bool {
				var connErr *cluster.ConnectionError
				return errors.As(err, &connErr) && connErr.Status == cluster.Disconnected
			},
		},
		{
			name:    "unknown-cluster",
			cluster: "nope",
			group:   "billing",
			check:   func(err error) bool { return errors.Is(err, ErrUnknownCluster) },
		},
		{
			name:    "unknown-group",
			cluster: "prod",
			group:   "ghost",
			setup:   func() { connect(t, c, "prod") },
			check:   func(err error) bool { return errors.Is(err, cluster.ErrUnknownGroup) },
		},
		{
			name:    "empty-group",
			cluster: "prod",
			group:   "  ",
			check:   func(err error) bool { return errors.Is(err, cluster.ErrUnknownGroup) },
		},
		{
			name:    "fetch-failure",
			cluster: "prod",
			group:   "billing",
			setup:   func() { prod.FetchErr = errors.New("broker gone") },
			check: func(err error) bool {
				var connErr *cluster.ConnectionError
				return errors.As(err, &connErr) && connErr.Status == cluster.Connected
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup != nil {
				tc.setup()
			}
			_, err := c.GroupLag(ctx, tc.cluster, tc.group)
			if !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
