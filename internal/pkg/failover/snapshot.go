package failover

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshotter persists cache snapshots. Injected so tests can run without
// touching the filesystem.
type Snapshotter interface {
	Save(snap Snapshot) error
	Load() (Snapshot, error)
}

// FileSnapshotter writes snapshots as JSON to a single file, atomically via
// a temp file rename.
type FileSnapshotter struct {
	Path string
}

func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{Path: path}
}

func (f *FileSnapshotter) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failover: encode snapshot: %w", err)
	}

	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failover: create snapshot dir: %w", err)
		}
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failover: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("failover: replace snapshot: %w", err)
	}
	return nil
}

func (f *FileSnapshotter) Load() (Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// First start, nothing persisted yet.
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("failover: read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failover: decode snapshot: %w", err)
	}
	return snap, nil
}

// NopSnapshotter discards snapshots; used when no snapshot path is
// configured and in tests that only exercise the in-memory behavior.
type NopSnapshotter struct{}

func (NopSnapshotter) Save(Snapshot) error { return nil }
func (NopSnapshotter) Load() (Snapshot, error) { return Snapshot{}, nil }
