package cluster

import (
	"fmt"
	"strings"
	"time"
)

// Status is the connection status of a cluster.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Failed
)

var statusNames = [...]string{
	Disconnected: "Disconnected",
	Connecting:   "Connecting",
	Connected:    "Connected",
	Failed:       "Failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText renders the status name so JSON output stays readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus is the inverse of Status.String, case-insensitive.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Status(i), nil
		}
	}
	return Disconnected, fmt.Errorf("unknown status %q", name)
}

// allowed lists every legal transition. Disconnect is accepted from any
// non-idle status so an explicit disconnect always wins.
var allowed = map[Status][]Status{
	Disconnected: {Connecting},
	Connecting:   {Connected, Failed, Disconnected},
	Connected:    {Disconnected},
	Failed:       {Connecting, Disconnected},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// State is the current connection state of one cluster.
type State struct {
	Cluster     string    `json:"cluster"`
	Status      Status    `json:"status"`
	Since       time.Time `json:"since"`
	Error       string    `json:"error,omitempty"`
	Attempt     uint64    `json:"attempt"`
	BrokerCount int       `json:"brokerCount,omitempty"`
}

// StateChange is published after every applied transition.
type StateChange struct {
	From  Status
	State State
}
