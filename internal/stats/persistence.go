package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	// statsVersion is bumped when the schema changes so Load can apply
	// migrations in the future.
	statsVersion = 1

	statsFileName = "stats.json"
	appDirName    = "friend-radar"
)

// Store handles loading and saving Stats to disk.
type Store struct {
	dir string
}

// NewStore creates a Store that reads/writes stats in the given directory.
// The directory is created on the first Save if it does not exist. Pass an
// empty string to use the default XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = filepath.Join(xdg.StateHome, appDirName)
	}
	return &Store{dir: dir}
}

// Path returns the full path to the stats file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, statsFileName)
}

// Load reads stats from disk. A missing file yields an empty Stats with
// initialized maps and the current version.
func (s *Store) Load() (*Stats, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return newStats(), nil
		}
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing stats: %w", err)
	}
	st.initMaps()

	return &st, nil
}

// Save writes stats to disk using a temp-file-then-rename pattern. The
// directory is created if it does not already exist.
func (s *Store) Save(st *Stats) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating stats dir: %w", err)
	}

	st.Version = statsVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".stats-*.tmp")
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
		return fmt.Errorf("renaming stats file: %w", err)
	}
	committed = true

	return nil
}
