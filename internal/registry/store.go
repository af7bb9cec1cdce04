package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// saveMu makes Save the single writer of profile files in this process.
var saveMu sync.Mutex

// Load reads the profile list at path. A missing file yields an empty list.
func Load(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Profile{}, nil
		}
		return nil, fmt.Errorf("read profiles %q: %w", path, err)
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles %q: %w", path, err)
	}
	if profiles == nil {
		profiles = []Profile{}
	}
	if err := checkLoaded(profiles); err != nil {
		return nil, fmt.Errorf("profiles %q: %w", path, err)
	}
	return profiles, nil
}

// checkLoaded normalizes a hand-edited profile list in place. Invalid
// entries and repeated names are errors; only the first connect-by-default
// flag is kept.
func checkLoaded(profiles []Profile) error {
	seen := make(map[string]bool, len(profiles))
	defaultName := ""
	for i := range profiles {
		p := &profiles[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[p.Name] {
			return &DuplicateNameError{Name: p.Name}
		}
		seen[p.Name] = true

		if !p.ConnectByDefault {
			continue
		}
		if defaultName != "" {
			slog.Warn("ignoring extra connect-by-default profile", "cluster", p.Name, "default", defaultName)
			p.ConnectByDefault = false
			continue
		}
		defaultName = p.Name
	}
	return nil
}

// Save writes profiles to path atomically: the data goes to a temporary file
// in the same directory which then replaces path.
func Save(path string, profiles []Profile) error {
	if profiles == nil {
		profiles = []Profile{}
	}
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	data = append(data, '\n')

	saveMu.Lock()
	defer saveMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %q: %w", path, err)
	}
	committed = true
	return nil
}
