package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// State is the view state written back on toggle: the two dialog
// switches, the scoped project, and the last search pattern. Loading
// and saving it never touches the caches; it only changes what a view
// shows next time.
type State struct {
	ShowConnected   bool   `toml:"show_connected"`
	ShowAllProjects bool   `toml:"show_all_projects"`
	ActiveProject   string `toml:"active_project,omitempty"`
	Pattern         string `toml:"pattern,omitempty"`
}

// LoadState reads persisted view state. A missing file is not an
// error; it yields the zero state, matching a first run.
func LoadState(path string) (State, error) {
	var st State

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("%s: %w", path, err)
	}

	return st, nil
}

// SaveState writes view state atomically so a crash mid-write never
// leaves a truncated file behind.
func SaveState(path string, st State) error {
	data, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if path == "" {
		return errors.New("config: empty state path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".db-navigator-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
		_ = tmp.Close()
	}()
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}
