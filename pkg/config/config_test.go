package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Process.WindowCap != 5 {
		t.Errorf("WindowCap = %d, want 5", cfg.Process.WindowCap)
	}
	if cfg.Process.HistoryDepth != 5 {
		t.Errorf("HistoryDepth = %d, want 5", cfg.Process.HistoryDepth)
	}
	if cfg.Process.CanonicalPrefix != "!" {
		t.Errorf("CanonicalPrefix = %q, want %q", cfg.Process.CanonicalPrefix, "!")
	}
	if cfg.Runner.Checkpoint.Backend != "file" {
		t.Errorf("Checkpoint.Backend = %q, want %q", cfg.Runner.Checkpoint.Backend, "file")
	}
}

func TestMergeKeepsUnsetValues(t *testing.T) {
	m := NewManager()
	m.merge(&Config{
		Input:   InputConfig{TripleDir: "/data/triples"},
		Process: ProcessConfig{CanonicalPrefix: "$"},
	})

	cfg := m.Get()
	if cfg.Input.TripleDir != "/data/triples" {
		t.Errorf("TripleDir = %q, want %q", cfg.Input.TripleDir, "/data/triples")
	}
	if cfg.Process.CanonicalPrefix != "$" {
		t.Errorf("CanonicalPrefix = %q, want %q", cfg.Process.CanonicalPrefix, "$")
	}
	// Unset values in the partial must keep their defaults.
	if cfg.Process.WindowCap != 5 {
		t.Errorf("WindowCap = %d, want 5", cfg.Process.WindowCap)
	}
	if cfg.Input.EventDir != "data" {
		t.Errorf("EventDir = %q, want %q", cfg.Input.EventDir, "data")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
input:
  triple_dir: /srv/triples
process:
  window_cap: 8
runner:
  workers: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.loadFile(path); err != nil {
		t.Fatalf("loadFile: %v", err)
	}

	cfg := m.Get()
	if cfg.Input.TripleDir != "/srv/triples" {
		t.Errorf("TripleDir = %q, want %q", cfg.Input.TripleDir, "/srv/triples")
	}
	if cfg.Process.WindowCap != 8 {
		t.Errorf("WindowCap = %d, want 8", cfg.Process.WindowCap)
	}
	if cfg.Runner.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Runner.Workers)
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(": not yaml ["), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.loadFile(path); err == nil {
		t.Error("loadFile accepted invalid yaml")
	}
}
