package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateStore persists the scheduler's low-water mark: the lowest event id
// that is not yet settled.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lowWater uint64) error
}

// Checkpoint is the on-disk form of the low-water mark.
type Checkpoint struct {
	LowWater  uint64 `json:"low_water"`
	UpdatedAt string `json:"updated_at"`
}

// FileStateStore persists checkpoints to disk.
type FileStateStore struct {
	path    string
	enabled bool
}

func NewFileStateStore(path string, enabled bool) *FileStateStore {
	return &FileStateStore{path: path, enabled: enabled}
}

func (c *FileStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if !c.enabled {
		return 0, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp.LowWater, true, nil
}

func (c *FileStateStore) Save(ctx context.Context, lowWater uint64) error {
	if !c.enabled {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(Checkpoint{
		LowWater:  lowWater,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// DBStore is the subset of the postgres store holding named checkpoints.
type DBStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, last uint64) error
}

// DBStateStore keeps the low-water mark in the database under name.
type DBStateStore struct {
	store DBStore
	name  string
}

func NewDBStateStore(store DBStore, name string) *DBStateStore {
	return &DBStateStore{store: store, name: name}
}

func (s *DBStateStore) Load(ctx context.Context) (uint64, bool, error) {
	return s.store.LoadState(ctx, s.name)
}

func (s *DBStateStore) Save(ctx context.Context, lowWater uint64) error {
	return s.store.SaveState(ctx, s.name, lowWater)
}
