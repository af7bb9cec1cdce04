package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// ProfilesFileName is the profile list inside the state directory.
	ProfilesFileName = "clusters.json"
	// LegacyMarkerFileName held the last connected cluster name in older
	// releases. It is migrated into ConnectByDefault on Open.
	LegacyMarkerFileName = "last_connected"
)

var (
	ErrInvalidProfile = errors.New("invalid cluster profile")
	ErrNotFound       = errors.New("cluster profile not found")
)

// DuplicateNameError is returned when a profile name is already taken by a
// different profile.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("cluster profile %q already exists", e.Name)
}

// Profile is the persisted connection profile of a cluster.
type Profile struct {
	Name             string   `json:"name"`
	Brokers          []string `json:"brokerUrls"`
	ConnectByDefault bool     `json:"connectByDefault"`
	KafkaVersion     string   `json:"cachedKafkaVersion,omitempty"`
}

// Validate normalizes and checks the profile in place.
func (p *Profile) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}

	brokers := make([]string, 0, len(p.Brokers))
	for _, b := range p.Brokers {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		host, port, err := net.SplitHostPort(b)
		if err != nil || host == "" || port == "" {
			return fmt.Errorf("%w: broker %q is not host:port", ErrInvalidProfile, b)
		}
		brokers = append(brokers, b)
	}
	if len(brokers) == 0 {
		return fmt.Errorf("%w: at least one broker is required", ErrInvalidProfile)
	}
	p.Brokers = brokers
	return nil
}

func (p Profile) clone() Profile {
	p.Brokers = append([]string(nil), p.Brokers...)
	return p
}

// Registry owns the ordered set of profiles and persists every change.
type Registry struct {
	mu       sync.RWMutex
	path     string
	profiles []Profile
}

// Open loads the registry stored in dir, creating nothing until the first
// mutation.
func Open(dir string) (*Registry, error) {
	path := filepath.Join(dir, ProfilesFileName)
	profiles, err := Load(path)
	if err != nil {
		return nil, err
	}

	r := &Registry{path: path, profiles: profiles}
	if err := r.migrateLegacyMarker(filepath.Join(dir, LegacyMarkerFileName)); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Profiles returns a copy of all profiles in stored order.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.profiles)
}

// Get returns the profile with the given name.
func (r *Registry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := indexOf(r.profiles, name); i >= 0 {
		return r.profiles[i].clone(), true
	}
	return Profile{}, false
}

// Default returns the profile marked connect-by-default, if any.
func (r *Registry) Default() (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.profiles {
		if p.ConnectByDefault {
			return p.clone(), true
		}
	}
	return Profile{}, false
}

// Upsert inserts p when original is empty, otherwise replaces the profile
// named original. A name held by another profile is rejected.
func (r *Registry) Upsert(p Profile, original string) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := cloneAll(r.profiles)
	target := -1
	if original != "" {
		target = indexOf(next, original)
		if target < 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, original)
		}
	}
	if i := indexOf(next, p.Name); i >= 0 && i != target {
		return &DuplicateNameError{Name: p.Name}
	}

	if p.ConnectByDefault {
		clearDefaults(next)
	}
	if target >= 0 {
		next[target] = p.clone()
	} else {
		next = append(next, p.clone())
	}

	return r.commitLocked(next)
}

// Remove deletes the named profile. Unknown names are ignored.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.profiles, name)
	if i < 0 {
		return nil
	}

	next := cloneAll(r.profiles)
	next = append(next[:i], next[i+1:]...)
	return r.commitLocked(next)
}

// SetDefault marks name as the only connect-by-default profile. An empty
// name clears the flag everywhere.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := cloneAll(r.profiles)
	clearDefaults(next)
	if name != "" {
		i := indexOf(next, name)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		next[i].ConnectByDefault = true
	}

	return r.commitLocked(next)
}

// SetKafkaVersion records the broker version last seen for name.
func (r *Registry) SetKafkaVersion(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.profiles, name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if r.profiles[i].KafkaVersion == version {
		return nil
	}

	next := cloneAll(r.profiles)
	next[i].KafkaVersion = version
	return r.commitLocked(next)
}

// commitLocked persists next and only then makes it current.
func (r *Registry) commitLocked(next []Profile) error {
	if err := Save(r.path, next); err != nil {
		return err
	}
	r.profiles = next
	return nil
}

func (r *Registry) migrateLegacyMarker(markerPath string) error {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read legacy marker %q: %w", markerPath, err)
	}

	name := strings.TrimSpace(string(data))
	if _, hasDefault := r.Default(); !hasDefault && name != "" {
		if _, ok := r.Get(name); ok {
			if err := r.SetDefault(name); err != nil {
				return err
			}
			slog.Info("migrated last connected cluster to connect-by-default", "cluster", name)
		}
	}

	if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove legacy marker %q: %w", markerPath, err)
	}
	return nil
}

func indexOf(profiles []Profile, name string) int {
	for i, p := range profiles {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func clearDefaults(profiles []Profile) {
	for i := range profiles {
		profiles[i].ConnectByDefault = false
	}
}

func cloneAll(profiles []Profile) []Profile {
	out := make([]Profile, len(profiles))
	for i, p := range profiles {
		out[i] = p.clone()
	}
	return out
}
