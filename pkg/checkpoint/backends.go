package checkpoint

import (
	"context"
	"path/filepath"
)

// Backend defines the interface for checkpoint storage backends.
// Implementations can store checkpoints in various locations (local, Redis).
type Backend interface {
	// Save persists a checkpoint to the backend.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves a checkpoint by run id.
	Load(ctx context.Context, runID string) (*Checkpoint, error)

	// Delete removes a checkpoint.
	Delete(ctx context.Context, runID string) error

	// ListIncomplete returns all checkpoints that haven't completed.
	ListIncomplete(ctx context.Context) ([]*Checkpoint, error)

	// FindByTripleDir finds an incomplete checkpoint for a triple directory.
	FindByTripleDir(ctx context.Context, tripleDir string) (*Checkpoint, error)

	// Name returns the backend name for logging/debugging.
	Name() string
}

// LocalBackend wraps the file-based Manager as a Backend.
type LocalBackend struct {
	mgr *Manager
}

// NewLocalBackend creates a backend using the local filesystem.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	mgr, err := NewManager(dir)
	if err != nil {
		return nil, err
	}
	return &LocalBackend{mgr: mgr}, nil
}

// Manager returns the underlying file manager.
func (b *LocalBackend) Manager() *Manager {
	return b.mgr
}

// Save persists a checkpoint to the local filesystem.
func (b *LocalBackend) Save(ctx context.Context, cp *Checkpoint) error {
	cp.mu.Lock()
	if cp.path == "" {
		cp.path = filepath.Join(b.mgr.dir, cp.RunID+".checkpoint")
	}
	cp.mu.Unlock()
	return cp.Save()
}

// Load retrieves a checkpoint from the local filesystem.
func (b *LocalBackend) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	return b.mgr.Load(runID)
}

// Delete removes a checkpoint from the local filesystem.
func (b *LocalBackend) Delete(ctx context.Context, runID string) error {
	return b.mgr.Delete(runID)
}

// ListIncomplete returns all incomplete checkpoints.
func (b *LocalBackend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	return b.mgr.ListIncomplete()
}

// FindByTripleDir finds an incomplete checkpoint for a triple directory.
func (b *LocalBackend) FindByTripleDir(ctx context.Context, tripleDir string) (*Checkpoint, error) {
	return b.mgr.Find(tripleDir)
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}
