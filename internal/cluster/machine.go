package cluster

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Detail carries the outcome data recorded with a transition.
type Detail struct {
	Error       string
	BrokerCount int
}

// Machine tracks one State per cluster name. Transitions for a name are
// validated against the transition table; callers that need several steps
// to be atomic (read status, then transition) serialize per name themselves.
type Machine struct {
	mu      sync.Mutex
	states  map[string]*State
	subs    map[int]chan StateChange
	nextSub int
	now     func() time.Time
}

// NewMachine returns an empty machine.
func NewMachine() *Machine {
	return &Machine{
		states: make(map[string]*State),
		subs:   make(map[int]chan StateChange),
		now:    time.Now,
	}
}

// Ensure creates a Disconnected state for name if none exists and returns
// the current state.
func (m *Machine) Ensure(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		st = &State{Cluster: name, Status: Disconnected, Since: m.now()}
		m.states[name] = st
	}
	return *st
}

// Remove drops the state for name.
func (m *Machine) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, name)
}

// Get returns the state for name.
func (m *Machine) Get(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Snapshot returns every tracked state sorted by cluster name.
func (m *Machine) Snapshot() []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cluster < out[j].Cluster
	})
	return out
}

// Transition moves name to status to. A transition to the current status is
// a no-op. The error detail is kept only for Failed.
func (m *Machine) Transition(name string, to Status, attempt uint64, detail Detail) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrNotTracked, name)
	}
	if st.Status == to {
		return *st, nil
	}
	if !CanTransition(st.Status, to) {
		return *st, fmt.Errorf("%w: %s -> %s for %q", ErrInvalidTransition, st.Status, to, name)
	}

	from := st.Status
	st.Status = to
	st.Since = m.now()
	st.Attempt = attempt
	st.Error = ""
	st.BrokerCount = 0
	switch to {
	case Failed:
		st.Error = detail.Error
	case Connected:
		st.BrokerCount = detail.BrokerCount
	}

	m.publishLocked(StateChange{From: from, State: *st})
	return *st, nil
}

// Subscribe returns a channel receiving every applied transition and a
// function that stops the subscription. Events are dropped for a subscriber
// whose buffer is full.
func (m *Machine) Subscribe(buffer int) (<-chan StateChange, func()) {
	if buffer < 1 {
		buffer = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan StateChange, buffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Machine) publishLocked(change StateChange) {
	for id, ch := range m.subs {
		select {
		case ch <- change:
		default:
			slog.Warn("dropping state change for slow subscriber",
				"subscriber", id,
				"cluster", change.State.Cluster,
				"status", change.State.Status,
			)
		}
	}
}
