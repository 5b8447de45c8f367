// Package config resolves the harness configuration: built-in
// defaults, the user's YAML config file, and optional per-plan JSONC
// option sidecars.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/llamasoft/gorace/internal/types"
)

// Config is the defaults file layout (~/.config/gorace/config.yaml).
type Config struct {
	Workers           int    `yaml:"workers" json:"workers"`
	TailBytes         int    `yaml:"tail_bytes" json:"tail_bytes"`
	ConnectMode       string `yaml:"connect_mode" json:"connect_mode"`
	Eval              bool   `yaml:"eval" json:"eval"`
	SaveSentCookies   *bool  `yaml:"save_sent_cookies" json:"save_sent_cookies"`
	BarrierTimeoutSec int    `yaml:"barrier_timeout_sec" json:"barrier_timeout_sec"`
	ReleaseDelayMs    int    `yaml:"release_delay_ms" json:"release_delay_ms"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec" json:"request_timeout_sec"`
	Insecure          bool   `yaml:"insecure" json:"insecure"`
	Proxy             string `yaml:"proxy" json:"proxy"`
	HistoryEnabled    *bool  `yaml:"history_enabled" json:"history_enabled"`
	HistoryDBPath     string `yaml:"history_db_path" json:"history_db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers:     2,
		TailBytes:   types.DefaultTailBytes,
		ConnectMode: string(types.ConnectSame),
	}
}

// GetConfigDir returns the gorace configuration directory.
func GetConfigDir() string {
	if dir := os.Getenv("GORACE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gorace"
	}
	return filepath.Join(home, ".config", "gorace")
}

// GetConfigFilePath returns the YAML defaults file path.
func GetConfigFilePath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// GetHistoryDBPath returns the history database path, honoring a
// configured override.
func (c *Config) GetHistoryDBPath() string {
	if c.HistoryDBPath != "" {
		return c.HistoryDBPath
	}
	return filepath.Join(GetConfigDir(), "history.db")
}

// Initialize creates the configuration directory.
func Initialize() error {
	if err := os.MkdirAll(GetConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// Load reads the defaults file, returning built-in defaults when it
// does not exist.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(GetConfigFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadPlanOptions merges a plan's JSONC sidecar (<plan>.options.jsonc)
// into the config, if one exists next to the plan file. JSONC keeps
// the option files commentable, which plan files tend to need.
func (c *Config) LoadPlanOptions(planPath string) error {
	sidecar := sidecarPath(planPath)

	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read plan options: %w", err)
	}

	if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
		return fmt.Errorf("failed to parse plan options %s: %w", sidecar, err)
	}
	return nil
}

func sidecarPath(planPath string) string {
	ext := filepath.Ext(planPath)
	base := planPath[:len(planPath)-len(ext)]
	return base + ".options.jsonc"
}

// IsHistoryEnabled reports whether runs should be persisted.
func (c *Config) IsHistoryEnabled() bool {
	if c.HistoryEnabled == nil {
		return true
	}
	return *c.HistoryEnabled
}

// Params converts the configuration into race parameters.
func (c *Config) Params() types.RaceParams {
	params := types.DefaultParams()

	params.DoEval = c.Eval
	if c.SaveSentCookies != nil {
		params.SaveSentCookies = *c.SaveSentCookies
	}
	if c.TailBytes != 0 {
		params.TailBytes = c.TailBytes
	}
	if c.ConnectMode != "" {
		params.ConnectMode = types.ConnectMode(c.ConnectMode)
	}
	if c.BarrierTimeoutSec != 0 {
		params.BarrierTimeout = time.Duration(c.BarrierTimeoutSec) * time.Second
	}
	if c.ReleaseDelayMs != 0 {
		params.ReleaseDelay = time.Duration(c.ReleaseDelayMs) * time.Millisecond
	}
	if c.RequestTimeoutSec != 0 {
		params.Send.Timeout = time.Duration(c.RequestTimeoutSec) * time.Second
	}
	params.Send.Insecure = c.Insecure
	params.Send.Proxy = c.Proxy

	return params
}
