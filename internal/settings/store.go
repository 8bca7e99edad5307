package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

const (
	// settingsVersion is bumped when the schema changes so Load can apply
	// migrations in the future.
	settingsVersion = 1

	settingsFileName = "settings.json"
	appDirName       = "friend-radar"
)

// Store owns the live Settings and its durable copy. Reads return clones;
// every mutation is written back to disk before the call returns. Unknown
// keys found in the loaded document ride along on every save so newer
// schema versions are not silently stripped.
type Store struct {
	mu      sync.RWMutex
	dir     string
	current *Settings
	raw     map[string]json.RawMessage
}

// NewStore creates a Store persisting under dir. Pass an empty string to
// use the default XDG state path. The settings are the defaults until
// Load is called.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = filepath.Join(xdg.StateHome, appDirName)
	}
	return &Store{
		dir:     dir,
		current: Default(),
	}
}

// Path returns the full path to the settings file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, settingsFileName)
}

// Load reads the persisted document and merges it over the defaults:
// present keys win, absent keys keep their default. A missing file is not
// an error. On a corrupt file the defaults stay active and the error is
// returned for the caller to log.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Default()
	s.raw = nil

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading settings: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing settings: %w", err)
	}
	if err := json.Unmarshal(data, s.current); err != nil {
		return fmt.Errorf("parsing settings: %w", err)
	}
	s.current.normalize()
	s.raw = raw
	return nil
}

// Current returns a clone of the live settings.
func (s *Store) Current() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies fn to the live settings and persists the result
// synchronously. The mutated value stays authoritative in memory even
// when the write fails; the next Update retries the full write. The
// returned clone reflects the post-mutation state.
func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.current)
	s.current.normalize()
	s.current.LastUpdated = time.Now().UTC()
	err := s.saveLocked()
	return s.current.Clone(), err
}

// Replace swaps in a full settings document, normalizes it, and persists.
// Used by the settings API; selection maps from next are adopted as-is.
func (s *Store) Replace(next *Settings) (*Settings, error) {
	return s.Update(func(cur *Settings) {
		*cur = *next.Clone()
	})
}

// saveLocked writes the current settings merged over any unknown keys
// from the loaded document, using a temp-file-then-rename write.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	s.current.Version = settingsVersion

	known, err := json.Marshal(s.current)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return fmt.Errorf("remarshaling settings: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(knownMap)+len(s.raw))
	for k, v := range s.raw {
		merged[k] = v
	}
	for k, v := range knownMap {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming settings file: %w", err)
	}
	committed = true

	s.raw = merged
	return nil
}
