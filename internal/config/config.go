// Package config loads the archive's settings from
// <state-dir>/archive.yaml. All settings have usable defaults; a missing
// config file is normal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/claw-archive/internal/telemetry"
)

// ImportConfig holds the self-identifiers the import parsers use to decide
// message direction.
type ImportConfig struct {
	// TelegramSelfID supplements the export's own user_self/"You" markers.
	TelegramSelfID string `yaml:"telegram_self_id"`
	// WhatsAppSelfName marks outbound messages in locales where the export
	// does not write "You".
	WhatsAppSelfName string `yaml:"whatsapp_self_name"`
}

// ScanConfig holds the scanner's defaults.
type ScanConfig struct {
	// Roots override the default session-log subtrees under the state dir.
	Roots []string `yaml:"roots"`
	// Schedule is a 5-field cron expression for watch-mode periodic scans.
	Schedule string `yaml:"schedule"`
	// DebounceSeconds between a file-change notification and the rescan it
	// triggers. Defaults to 2.
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// Config is the archive's full configuration.
type Config struct {
	// StateDir is resolved, never read from YAML.
	StateDir string `yaml:"-"`

	DBPath   string                  `yaml:"db_path"`
	LogLevel string                  `yaml:"log_level"`
	Quiet    bool                    `yaml:"quiet"`
	Scan     ScanConfig              `yaml:"scan"`
	Import   ImportConfig            `yaml:"import"`
	Metrics  telemetry.MetricsConfig `yaml:"metrics"`
}

// StateDir resolves the platform state directory: $OPENCLAW_STATE_DIR, or
// ~/.openclaw.
func StateDir() string {
	if override := os.Getenv("OPENCLAW_STATE_DIR"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".openclaw")
}

// ConfigPath returns the settings file location for a state dir.
func ConfigPath(stateDir string) string {
	return filepath.Join(stateDir, "archive.yaml")
}

// Load reads archive.yaml under the state dir, applies env overrides, and
// fills defaults. The state dir must exist: an archive with nothing to
// archive is a configuration error.
func Load() (Config, error) {
	var cfg Config
	cfg.StateDir = StateDir()

	if st, err := os.Stat(cfg.StateDir); err != nil || !st.IsDir() {
		return cfg, fmt.Errorf("state dir %s not found", cfg.StateDir)
	}

	data, err := os.ReadFile(ConfigPath(cfg.StateDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read archive.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse archive.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLAW_ARCHIVE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CLAW_ARCHIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.StateDir, "archive", "archive.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.Scan.Roots) == 0 {
		cfg.Scan.Roots = DefaultScanRoots(cfg.StateDir)
	}
	if cfg.Scan.DebounceSeconds <= 0 {
		cfg.Scan.DebounceSeconds = 2
	}
	if cfg.Scan.Schedule == "" {
		cfg.Scan.Schedule = "*/15 * * * *"
	}
	for i, root := range cfg.Scan.Roots {
		cfg.Scan.Roots[i] = strings.TrimRight(root, string(os.PathSeparator))
	}
}

// DefaultScanRoots lists the session-log subtrees the platform writes.
func DefaultScanRoots(stateDir string) []string {
	return []string{
		filepath.Join(stateDir, "agents"),
		filepath.Join(stateDir, "cron", "runs"),
	}
}
