package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all nova configuration.
type Config struct {
	Owner    string         `yaml:"owner"`
	DataDir  string         `yaml:"data_dir"`
	Server   ServerConfig   `yaml:"server"`
	Loop     LoopConfig     `yaml:"loop"`
	Autonomy AutonomyConfig `yaml:"autonomy"`
	History  HistoryConfig  `yaml:"history"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type LoopConfig struct {
	RecallLimit     int `yaml:"recall_limit"`
	ConsoleDrainMax int `yaml:"console_drain_max"` // inputs drained per cycle
}

// AutonomyConfig tunes the controller that adjusts cycle tempo and pruning.
type AutonomyConfig struct {
	SleepBaseSec    float64 `yaml:"sleep_base_sec"`
	SleepMinSec     float64 `yaml:"sleep_min_sec"`
	SleepMaxSec     float64 `yaml:"sleep_max_sec"`
	TargetCycleMS   float64 `yaml:"target_cycle_ms"`
	ErrorBackoffSec float64 `yaml:"error_backoff_sec"`
	PruneMaxItems   int     `yaml:"prune_max_items"`
	PruneFloorKeep  int     `yaml:"prune_floor_keep"`
	PruneScoreLT    float64 `yaml:"prune_if_score_lt"`
	PrunePenaltyGT  float64 `yaml:"prune_if_penalty_gt"`
	PruneStaleDays  int     `yaml:"prune_if_last_seen_days_gt"`
}

// HistoryConfig caps the append-only histories. The original engine let these
// grow without bound; capping them is a deliberate hardening change.
type HistoryConfig struct {
	PulseCap   int `yaml:"pulse_cap"`   // per summary file
	SessionCap int `yaml:"session_cap"` // session log entries
	AuditCap   int `yaml:"audit_cap"`   // audit log entries
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // resolved under DataDir when relative
}

// Default returns a Config with the engine's stock tuning.
func Default() Config {
	return Config{
		Owner:   "YZ",
		DataDir: "data",
		Server: ServerConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    5050,
		},
		Loop: LoopConfig{
			RecallLimit:     5,
			ConsoleDrainMax: 8,
		},
		Autonomy: AutonomyConfig{
			SleepBaseSec:    5.0,
			SleepMinSec:     2.0,
			SleepMaxSec:     15.0,
			TargetCycleMS:   800.0,
			ErrorBackoffSec: 3.0,
			PruneMaxItems:   1000,
			PruneFloorKeep:  50,
			PruneScoreLT:    0.05,
			PrunePenaltyGT:  0.2,
			PruneStaleDays:  7,
		},
		History: HistoryConfig{
			PulseCap:   500,
			SessionCap: 1000,
			AuditCap:   500,
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    "pulse_archive.db",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ArchivePath resolves the pulse archive location under the data dir.
func (c *Config) ArchivePath() string {
	if filepath.IsAbs(c.Archive.Path) {
		return c.Archive.Path
	}
	return filepath.Join(c.DataDir, c.Archive.Path)
}

// Paths maps the engine's on-disk artifact layout under a single data dir.
type Paths struct {
	DataDir string
}

func (p Paths) Reports() string { return filepath.Join(p.DataDir, "reports") }
func (p Paths) Exports() string { return filepath.Join(p.DataDir, "exports") }
func (p Paths) Imports() string { return filepath.Join(p.DataDir, "imports") }

func (p Paths) Memory() string     { return filepath.Join(p.DataDir, "long_term_memory.json") }
func (p Paths) SessionLog() string { return filepath.Join(p.DataDir, "session_log.json") }

func (p Paths) HealSummary() string     { return filepath.Join(p.Reports(), "healing_summary.json") }
func (p Paths) EmotionSummary() string  { return filepath.Join(p.Reports(), "emotion_summary.json") }
func (p Paths) AutonomySummary() string { return filepath.Join(p.Reports(), "autonomy_summary.json") }
func (p Paths) AuditLog() string        { return filepath.Join(p.Reports(), "audit_log.json") }

func (p Paths) Commands() string { return filepath.Join(p.Imports(), "commands.json") }

// Export returns the path of a named export artifact (heartbeat.json, etc).
func (p Paths) Export(name string) string { return filepath.Join(p.Exports(), name) }

// EnsureDirs creates the full data directory tree.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.DataDir, p.Reports(), p.Exports(), p.Imports()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
