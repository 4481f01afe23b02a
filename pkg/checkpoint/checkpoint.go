// Package checkpoint provides resume capability for interrupted
// normalization runs. A run checkpoint records which sessions have been
// fully processed so a restarted run can skip them.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionResult records the outcome of one fully processed session.
type SessionResult struct {
	TriplesIn   int       `json:"triples_in"`
	TriplesOut  int       `json:"triples_out"`
	CompletedAt time.Time `json:"completed_at"`
}

// Checkpoint tracks normalization run progress for resume capability.
type Checkpoint struct {
	// Identification
	RunID     string `json:"run_id"`
	TripleDir string `json:"triple_dir"`
	OutputDir string `json:"output_dir"`

	// Progress, keyed by session id.
	Sessions map[string]*SessionResult `json:"sessions"`

	// State
	Phase       string     `json:"phase"` // running, complete
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Internal
	path string
	mu   sync.Mutex
}

// NewCheckpoint builds a fresh run checkpoint not yet bound to a backend.
func NewCheckpoint(runID, tripleDir, outputDir string) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		TripleDir: tripleDir,
		OutputDir: outputDir,
		Sessions:  make(map[string]*SessionResult),
		Phase:     "running",
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// Manager handles checkpoint persistence.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	active map[string]*Checkpoint
}

// NewManager creates a new checkpoint manager.
func NewManager(checkpointDir string) (*Manager, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Manager{
		dir:    checkpointDir,
		active: make(map[string]*Checkpoint),
	}, nil
}

// Create creates a new checkpoint for a run.
func (m *Manager) Create(runID, tripleDir, outputDir string) *Checkpoint {
	cp := &Checkpoint{
		RunID:     runID,
		TripleDir: tripleDir,
		OutputDir: outputDir,
		Sessions:  make(map[string]*SessionResult),
		Phase:     "running",
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		path:      filepath.Join(m.dir, runID+".checkpoint"),
	}

	m.mu.Lock()
	m.active[runID] = cp
	m.mu.Unlock()

	cp.Save()
	return cp
}

// Load loads a checkpoint from disk.
func (m *Manager) Load(runID string) (*Checkpoint, error) {
	path := filepath.Join(m.dir, runID+".checkpoint")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	cp.path = path
	if cp.Sessions == nil {
		cp.Sessions = make(map[string]*SessionResult)
	}

	m.mu.Lock()
	m.active[runID] = &cp
	m.mu.Unlock()

	return &cp, nil
}

// Find finds an existing incomplete checkpoint for a triple directory.
func (m *Manager) Find(tripleDir string) (*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if cp.TripleDir == tripleDir && cp.Phase != "complete" {
			cp.path = path
			if cp.Sessions == nil {
				cp.Sessions = make(map[string]*SessionResult)
			}
			return &cp, nil
		}
	}

	return nil, os.ErrNotExist
}

// Delete removes a checkpoint.
func (m *Manager) Delete(runID string) error {
	m.mu.Lock()
	delete(m.active, runID)
	m.mu.Unlock()

	path := filepath.Join(m.dir, runID+".checkpoint")
	return os.Remove(path)
}

// ListIncomplete returns all incomplete checkpoints.
func (m *Manager) ListIncomplete() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if cp.Phase != "complete" {
			cp.path = filepath.Join(m.dir, entry.Name())
			checkpoints = append(checkpoints, &cp)
		}
	}

	return checkpoints, nil
}

// Cleanup removes checkpoints older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// --- Checkpoint Methods ---

// MarkSession records a fully processed session.
func (c *Checkpoint) MarkSession(sessionID string, triplesIn, triplesOut int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Sessions[sessionID] = &SessionResult{
		TriplesIn:   triplesIn,
		TriplesOut:  triplesOut,
		CompletedAt: time.Now(),
	}
	c.UpdatedAt = time.Now()
}

// SessionProgress returns the recorded result for a session, if any.
func (c *Checkpoint) SessionProgress(sessionID string) (*SessionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.Sessions[sessionID]
	return res, ok
}

// HasSession reports whether a session was already processed.
func (c *Checkpoint) HasSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Sessions[sessionID]
	return ok
}

// SetPhase updates the phase.
func (c *Checkpoint) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Phase = phase
	c.UpdatedAt = time.Now()

	if phase == "complete" {
		now := time.Now()
		c.CompletedAt = &now
	}
}

// Save persists the checkpoint to disk.
func (c *Checkpoint) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, c.path)
}

// ShouldResume returns true if this checkpoint can be resumed.
func (c *Checkpoint) ShouldResume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Phase != "complete" && len(c.Sessions) > 0
}

// Progress returns progress as a percentage (0-100).
func (c *Checkpoint) Progress(totalSessions int) float64 {
	if totalSessions == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(len(c.Sessions)) * 100 / float64(totalSessions)
}

// Totals returns the aggregate triple counts across processed sessions.
func (c *Checkpoint) Totals() (triplesIn, triplesOut int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.Sessions {
		triplesIn += s.TriplesIn
		triplesOut += s.TriplesOut
	}
	return triplesIn, triplesOut
}

// Duration returns how long the run has been going.
func (c *Checkpoint) Duration() time.Duration {
	if c.CompletedAt != nil {
		return c.CompletedAt.Sub(c.StartedAt)
	}
	return time.Since(c.StartedAt)
}

// --- Auto-Save Goroutine ---

// StartAutoSave persists the checkpoint through the backend on a fixed
// interval until the returned stop function is called. Stop performs one
// final save so the last marked sessions survive a clean shutdown.
func (c *Checkpoint) StartAutoSave(b Backend, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				if err := b.Save(context.Background(), c); err != nil {
					log.Printf("checkpoint: autosave failed: %v", err)
				}
				return
			case <-ticker.C:
				if err := b.Save(context.Background(), c); err != nil {
					log.Printf("checkpoint: autosave failed: %v", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
