// Package session coordinates connections to many clusters. Each cluster
// connects in its own goroutine so a slow or broken cluster never blocks
// operations on any other.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/connector"
	"github.com/ppiankov/kafkadeck/internal/metacache"
	"github.com/ppiankov/kafkadeck/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Connector performs one connect attempt. Failures are reported through the
// outcome, never as a panic.
type Connector interface {
	Connect(ctx context.Context, p registry.Profile) (connector.Outcome, cluster.Session)
}

var _ Connector = (*connector.Connector)(nil)

// versionStore persists the broker version seen on connect.
type versionStore interface {
	SetKafkaVersion(name, version string) error
}

// entry is the per-cluster bookkeeping. seq increases on every connect and
// disconnect; an attempt whose captured seq is no longer current is stale.
type entry struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
	sess   cluster.Session
}

// Coordinator owns the state machine, the open sessions and the topic cache
// for every registered cluster.
type Coordinator struct {
	reg      *registry.Registry
	conn     Connector
	versions versionStore
	machine  *cluster.Machine
	cache    *metacache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New returns a coordinator tracking every profile in reg as Disconnected.
func New(reg *registry.Registry, conn Connector) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		reg:      reg,
		conn:     conn,
		versions: reg,
		machine:  cluster.NewMachine(),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
	c.cache = metacache.New(c)

	for _, p := range reg.Profiles() {
		c.machine.Ensure(p.Name)
		c.entries[p.Name] = &entry{}
	}
	return c
}

// Registry returns the profile registry.
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Topics returns the topic metadata cache.
func (c *Coordinator) Topics() *metacache.Cache {
	return c.cache
}

// States returns the state of every cluster sorted by name.
func (c *Coordinator) States() []cluster.State {
	return c.machine.Snapshot()
}

// State returns the state of one cluster.
func (c *Coordinator) State(name string) (cluster.State, error) {
	if _, err := c.entryFor(name); err != nil {
		return cluster.State{}, err
	}
	st, _ := c.machine.Get(name)
	return st, nil
}

// Subscribe streams state changes. See cluster.Machine.Subscribe.
func (c *Coordinator) Subscribe(buffer int) (<-chan cluster.StateChange, func()) {
	return c.machine.Subscribe(buffer)
}

// Start connects the connect-by-default profile, if there is one.
func (c *Coordinator) Start() error {
	p, ok := c.reg.Default()
	if !ok {
		return nil
	}
	_, err := c.RequestConnect(p.Name)
	return err
}

// RequestConnect starts a connect attempt for name. It is a no-op while the
// cluster is Connecting or Connected.
func (c *Coordinator) RequestConnect(name string) (cluster.State, error) {
	e, err := c.entryFor(name)
	if err != nil {
		return cluster.State{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, _ := c.machine.Get(name)
	if st.Status == cluster.Connecting || st.Status == cluster.Connected {
		return st, nil
	}

	profile, ok := c.reg.Get(name)
	if !ok {
		return cluster.State{}, fmt.Errorf("%w: %q", ErrUnknownCluster, name)
	}

	e.seq++
	attempt := e.seq
	st, err = c.machine.Transition(name, cluster.Connecting, attempt, cluster.Detail{})
	if err != nil {
		return st, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	slog.Debug("connect requested", "cluster", name, "attempt", attempt)

	c.wg.Add(1)
	go c.runAttempt(ctx, e, profile, attempt, done)
	return st, nil
}

func (c *Coordinator) runAttempt(ctx context.Context, e *entry, p registry.Profile, attempt uint64, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	out, sess := c.connect(ctx, p)
	if err := c.resolve(e, p.Name, attempt, out, sess); err != nil {
		if errors.Is(err, errStaleAttempt) {
			slog.Debug("discarding connect outcome", "cluster", p.Name, "attempt", attempt, "error", err)
		} else {
			slog.Warn("failed to record connect outcome", "cluster", p.Name, "attempt", attempt, "error", err)
		}
		if sess != nil {
			sess.Close()
		}
		return
	}

	// Written after e.mu is released so a disconnect never waits on disk.
	if out.Success && out.KafkaVersion != "" {
		if err := c.versions.SetKafkaVersion(p.Name, out.KafkaVersion); err != nil {
			slog.Warn("failed to cache kafka version", "cluster", p.Name, "error", err)
		}
	}
}

func (c *Coordinator) connect(ctx context.Context, p registry.Profile) (out connector.Outcome, sess cluster.Session) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("connect attempt panicked", "cluster", p.Name, "panic", r)
			out, sess = connector.Outcome{Error: fmt.Sprintf("internal error: %v", r)}, nil
		}
	}()
	return c.conn.Connect(ctx, p)
}

// resolve applies the outcome of attempt unless a newer connect or a
// disconnect has superseded it.
func (c *Coordinator) resolve(e *entry, name string, attempt uint64, out connector.Outcome, sess cluster.Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq != attempt {
		return fmt.Errorf("%w: %d superseded by %d", errStaleAttempt, attempt, e.seq)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	if !out.Success {
		if out.Error == "" {
			out.Error = "connection failed"
		}
		_, err := c.machine.Transition(name, cluster.Failed, attempt, cluster.Detail{Error: out.Error})
		slog.Info("cluster connection failed", "cluster", name, "attempt", attempt, "error", out.Error)
		return err
	}

	if _, err := c.machine.Transition(name, cluster.Connected, attempt, cluster.Detail{BrokerCount: out.BrokerCount}); err != nil {
		return err
	}
	e.sess = sess
	slog.Info("cluster connected", "cluster", name, "attempt", attempt, "brokers", out.BrokerCount)
	return nil
}

// RequestDisconnect drops any in-flight attempt and the open session for
// name and moves it to Disconnected.
func (c *Coordinator) RequestDisconnect(name string) (cluster.State, error) {
	e, err := c.entryFor(name)
	if err != nil {
		return cluster.State{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return c.disconnectLocked(e, name)
}

func (c *Coordinator) disconnectLocked(e *entry, name string) (cluster.State, error) {
	e.seq++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.sess != nil {
		e.sess.Close()
		e.sess = nil
	}
	c.cache.InvalidateCluster(name)

	st, err := c.machine.Transition(name, cluster.Disconnected, e.seq, cluster.Detail{})
	if err != nil {
		return st, err
	}
	slog.Debug("cluster disconnected", "cluster", name)
	return st, nil
}

// SetDefault makes name the only connect-by-default profile and disconnects
// every other cluster. An empty name clears the default.
func (c *Coordinator) SetDefault(name string) error {
	if name != "" {
		if _, err := c.entryFor(name); err != nil {
			return err
		}
	}
	if err := c.reg.SetDefault(name); err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	return c.demoteOthers(name)
}

func (c *Coordinator) demoteOthers(keep string) error {
	for _, st := range c.machine.Snapshot() {
		if st.Cluster == keep {
			continue
		}
		if st.Status != cluster.Connected && st.Status != cluster.Connecting {
			continue
		}
		if _, err := c.RequestDisconnect(st.Cluster); err != nil && !errors.Is(err, ErrUnknownCluster) {
			return err
		}
	}
	return nil
}

// Wait blocks until no connect attempt is in flight for name and returns
// its state.
func (c *Coordinator) Wait(ctx context.Context, name string) (cluster.State, error) {
	e, err := c.entryFor(name)
	if err != nil {
		return cluster.State{}, err
	}

	for {
		e.mu.Lock()
		done := e.done
		e.mu.Unlock()
		if done == nil {
			break
		}

		select {
		case <-done:
		case <-ctx.Done():
			st, _ := c.machine.Get(name)
			return st, ctx.Err()
		}

		e.mu.Lock()
		same := e.done == done
		e.mu.Unlock()
		if same {
			break
		}
	}

	st, _ := c.machine.Get(name)
	return st, nil
}

// ConnectAll connects the named clusters, or every registered cluster when
// none are named, and waits for all attempts to finish.
func (c *Coordinator) ConnectAll(ctx context.Context, names ...string) ([]cluster.State, error) {
	if len(names) == 0 {
		for _, p := range c.reg.Profiles() {
			names = append(names, p.Name)
		}
	}

	states := make([]cluster.State, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if _, err := c.RequestConnect(name); err != nil {
				return err
			}
			st, err := c.Wait(gctx, name)
			states[i] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return states, err
	}
	return states, nil
}

// AddCluster registers a new profile.
func (c *Coordinator) AddCluster(p registry.Profile) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := c.reg.Upsert(p, ""); err != nil {
		return err
	}
	c.track(p.Name)

	if p.ConnectByDefault {
		return c.demoteOthers(p.Name)
	}
	return nil
}

// EditCluster replaces the profile named original. The cluster is
// disconnected so the next connect uses the new brokers.
func (c *Coordinator) EditCluster(original string, p registry.Profile) error {
	e, err := c.entryFor(original)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := c.reg.Upsert(p, original); err != nil {
		return err
	}

	e.mu.Lock()
	if _, err := c.disconnectLocked(e, original); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if p.Name != original {
		c.untrack(original)
		c.track(p.Name)
	}
	if p.ConnectByDefault {
		return c.demoteOthers(p.Name)
	}
	return nil
}

// RemoveCluster disconnects and unregisters name.
func (c *Coordinator) RemoveCluster(name string) error {
	e, err := c.entryFor(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	_, err = c.disconnectLocked(e, name)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.reg.Remove(name); err != nil {
		return err
	}
	c.untrack(name)
	return nil
}

// Source returns the open session of a connected cluster.
func (c *Coordinator) Source(name string) (metacache.Source, error) {
	return c.session(name)
}

func (c *Coordinator) session(name string) (cluster.Session, error) {
	e, err := c.entryFor(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		st, _ := c.machine.Get(name)
		return nil, &cluster.ConnectionError{Cluster: name, Status: st.Status}
	}
	return sess, nil
}

// Close cancels in-flight attempts, closes every session and waits for the
// attempt goroutines to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	entries := make(map[string]*entry, len(c.entries))
	for name, e := range c.entries {
		entries[name] = e
	}
	c.mu.Unlock()

	c.cancel()
	for name, e := range entries {
		e.mu.Lock()
		if _, err := c.disconnectLocked(e, name); err != nil {
			slog.Debug("disconnect on close", "cluster", name, "error", err)
		}
		e.mu.Unlock()
	}
	c.wg.Wait()
}

func (c *Coordinator) entryFor(name string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	e, ok := c.entries[name]
	if !ok {
		if _, registered := c.reg.Get(name); !registered {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCluster, name)
		}
		e = &entry{}
		c.entries[name] = e
		c.machine.Ensure(name)
	}
	return e, nil
}

func (c *Coordinator) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) track(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		c.entries[name] = &entry{}
	}
	c.machine.Ensure(name)
}

func (c *Coordinator) untrack(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
	c.machine.Remove(name)
	c.cache.InvalidateCluster(name)
}
