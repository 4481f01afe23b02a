// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all CombatScribe configuration.
type Config struct {
	Version int `yaml:"version"`

	Input     InputConfig     `yaml:"input"`
	Output    OutputConfig    `yaml:"output"`
	Process   ProcessConfig   `yaml:"process"`
	Runner    RunnerConfig    `yaml:"runner"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// InputConfig locates the triple files and session event logs.
type InputConfig struct {
	TripleDir string `yaml:"triple_dir"` // *.jsonl.gz triple files, one per session
	EventDir  string `yaml:"event_dir"`  // per-session event directories
}

// OutputConfig controls where normalized records go.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// ProcessConfig controls per-triple normalization behavior.
type ProcessConfig struct {
	WindowCap          int    `yaml:"window_cap"`           // before/after windows longer than this are emptied
	HistoryDepth       int    `yaml:"history_depth"`        // utterance history entries per record
	AutomationAuthorID string `yaml:"automation_author_id"` // author id of the automation actor
	CanonicalPrefix    string `yaml:"canonical_prefix"`     // command prefix all commands normalize to
}

// RunnerConfig controls the batch runner.
type RunnerConfig struct {
	Workers    int              `yaml:"workers"` // 0 = one per CPU
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

// CheckpointConfig controls resumable runs.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // file | redis
	Dir     string `yaml:"dir"`     // file backend
	Addr    string `yaml:"addr"`    // redis backend
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	scribeDir := filepath.Join(homeDir, ".combatscribe")

	return &Config{
		Version: 1,
		Input: InputConfig{
			TripleDir: "triples",
			EventDir:  "data",
		},
		Output: OutputConfig{
			Dir: "normalized",
		},
		Process: ProcessConfig{
			WindowCap:          5,
			HistoryDepth:       5,
			AutomationAuthorID: "261302296103747584",
			CanonicalPrefix:    "!",
		},
		Runner: RunnerConfig{
			Workers: 0, // auto
			Checkpoint: CheckpointConfig{
				Enabled: false,
				Backend: "file",
				Dir:     filepath.Join(scribeDir, "checkpoints"),
			},
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/combatscribe/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".combatscribe", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".combatscribe.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Input
	if src.Input.TripleDir != "" {
		m.config.Input.TripleDir = src.Input.TripleDir
	}
	if src.Input.EventDir != "" {
		m.config.Input.EventDir = src.Input.EventDir
	}

	// Output
	if src.Output.Dir != "" {
		m.config.Output.Dir = src.Output.Dir
	}

	// Process
	if src.Process.WindowCap != 0 {
		m.config.Process.WindowCap = src.Process.WindowCap
	}
	if src.Process.HistoryDepth != 0 {
		m.config.Process.HistoryDepth = src.Process.HistoryDepth
	}
	if src.Process.AutomationAuthorID != "" {
		m.config.Process.AutomationAuthorID = src.Process.AutomationAuthorID
	}
	if src.Process.CanonicalPrefix != "" {
		m.config.Process.CanonicalPrefix = src.Process.CanonicalPrefix
	}

	// Runner
	if src.Runner.Workers != 0 {
		m.config.Runner.Workers = src.Runner.Workers
	}
	if src.Runner.Checkpoint.Enabled {
		m.config.Runner.Checkpoint.Enabled = true
	}
	if src.Runner.Checkpoint.Backend != "" {
		m.config.Runner.Checkpoint.Backend = src.Runner.Checkpoint.Backend
	}
	if src.Runner.Checkpoint.Dir != "" {
		m.config.Runner.Checkpoint.Dir = src.Runner.Checkpoint.Dir
	}
	if src.Runner.Checkpoint.Addr != "" {
		m.config.Runner.Checkpoint.Addr = src.Runner.Checkpoint.Addr
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("COMBATSCRIBE_TRIPLE_DIR"); v != "" {
		m.config.Input.TripleDir = v
	}

	if v := os.Getenv("COMBATSCRIBE_EVENT_DIR"); v != "" {
		m.config.Input.EventDir = v
	}

	if v := os.Getenv("COMBATSCRIBE_OUTPUT_DIR"); v != "" {
		m.config.Output.Dir = v
	}

	if v := os.Getenv("COMBATSCRIBE_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil {
			m.config.Runner.Workers = workers
		}
	}

	if v := os.Getenv("COMBATSCRIBE_PREFIX"); v != "" {
		m.config.Process.CanonicalPrefix = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".combatscribe")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
