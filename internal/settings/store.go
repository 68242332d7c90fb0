package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store persists hub settings as one JSON file under the data directory.
// Writes go through a temp file and rename so a crash mid-save never leaves
// a truncated settings file behind.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// Open loads settings from dir, seeding the file with defaults when it does
// not exist yet. An unparsable file keeps the defaults in memory and is
// overwritten on the next save.
func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &Store{path: filepath.Join(dir, "settings.json"), cur: Defaults()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update replaces the settings wholesale and persists them.
func (s *Store) Update(next Settings) error {
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return s.save()
}

// Patch applies fn to a copy of the current settings, then persists.
func (s *Store) Patch(fn func(*Settings)) error {
	s.mu.Lock()
	cp := s.cur
	fn(&cp)
	s.cur = cp
	s.mu.Unlock()
	return s.save()
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.save()
		}
		return err
	}

	var cfg Settings
	if err := json.Unmarshal(b, &cfg); err != nil {
		// Corrupt file: run on defaults rather than refusing to start.
		return nil
	}
	if cfg.Version == 0 {
		// Unversioned or pre-release file, reseed with defaults.
		return s.save()
	}

	s.mu.Lock()
	s.cur = cfg
	s.mu.Unlock()
	return nil
}

func (s *Store) save() error {
	s.mu.RLock()
	cfg := s.cur
	s.mu.RUnlock()

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
