// Package checkpoint records which artifacts of an in-progress refresh have
// already been imported, so a rerun after a crash resumes instead of
// re-uploading.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

const fileName = "checkpoint.json"

// Checkpoint represents the progress of one refresh.
type Checkpoint struct {
	Marker    string     `json:"marker"`
	RunID     string     `json:"run_id"`
	Imported  []Artifact `json:"imported"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Artifact is one imported artifact.
type Artifact struct {
	Name       string    `json:"name"`
	ETag       string    `json:"etag"`
	Bookmark   string    `json:"bookmark,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
}

// Has reports whether an artifact with this name and content was imported.
func (cp *Checkpoint) Has(name, etag string) bool {
	if cp == nil {
		return false
	}
	for _, a := range cp.Imported {
		if a.Name == name && a.ETag == etag {
			return true
		}
	}
	return false
}

// Record appends an imported artifact.
func (cp *Checkpoint) Record(a Artifact) {
	if a.ImportedAt.IsZero() {
		a.ImportedAt = time.Now().UTC()
	}
	cp.Imported = append(cp.Imported, a)
	cp.UpdatedAt = a.ImportedAt
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the current checkpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Clear removes the checkpoint once its refresh has committed.
	Clear(ctx context.Context) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{path: filepath.Join(cfg.Dir, fileName)}, nil
}

// fileManager persists the checkpoint to a local file.
type fileManager struct {
	path string
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file atomically.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if _, err := util.WriteFileAtomic(m.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint file.
func (m *fileManager) Clear(ctx context.Context) error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}

func (m *noopManager) Clear(ctx context.Context) error {
	return nil
}
