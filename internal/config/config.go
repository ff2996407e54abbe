// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Arbor configuration
type Config struct {
	Repo   RepoConfig   `yaml:"repo"`
	Dev    DevConfig    `yaml:"dev"`
	Ports  PortsConfig  `yaml:"ports"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`

	// DataDir holds the persisted pipeline documents and the notes store.
	// Defaults to <repo root>/.arbor.
	DataDir string `yaml:"data_dir"`
}

// RepoConfig holds repository-level configuration
type RepoConfig struct {
	Root         string `yaml:"root"`
	WorktreesDir string `yaml:"worktrees_dir"`
	BaseBranch   string `yaml:"base_branch"`
}

// DevConfig specifies the dev-server and install commands
type DevConfig struct {
	Command        string   `yaml:"command"`
	InstallCommand string   `yaml:"install_command"`
	ReadyMarkers   []string `yaml:"ready_markers"`
}

// PortsConfig controls the port-offset pool
type PortsConfig struct {
	MaxInstances int               `yaml:"max_instances"`
	OffsetStep   int               `yaml:"offset_step"`
	Base         []BasePort        `yaml:"base"`
	EnvTemplates map[string]string `yaml:"env_templates"`
}

// BasePort maps a base port to the environment variable it is exposed as
type BasePort struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

// ServerConfig configures the HTTP/SSE listener
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls logging behavior
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultReadyMarkers are scanned in dev-server stdout to detect readiness
// ahead of any polling interval.
var DefaultReadyMarkers = []string{
	"ready",
	"listening on",
	"compiled successfully",
	"server running",
}

// Load loads the configuration from <repoRoot>/.arbor/config.yaml.
// A missing file is not an error: every field has a usable default so the
// daemon can run in a freshly initialized repository.
func Load(repoRoot string) (*Config, error) {
	cfg := &Config{}

	configPath := filepath.Join(repoRoot, ".arbor", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyDefaults(repoRoot)

	return cfg, nil
}

func (c *Config) applyDefaults(repoRoot string) {
	if c.Repo.Root == "" {
		c.Repo.Root = repoRoot
	}
	if c.Repo.WorktreesDir == "" {
		// Sibling directory: /path/to/app -> /path/to/app-worktrees
		c.Repo.WorktreesDir = filepath.Join(
			filepath.Dir(c.Repo.Root),
			filepath.Base(c.Repo.Root)+"-worktrees",
		)
	}
	if c.Repo.BaseBranch == "" {
		c.Repo.BaseBranch = "main"
	}
	if c.Dev.Command == "" {
		c.Dev.Command = "npm run dev"
	}
	if c.Dev.InstallCommand == "" {
		c.Dev.InstallCommand = "npm install"
	}
	if len(c.Dev.ReadyMarkers) == 0 {
		c.Dev.ReadyMarkers = DefaultReadyMarkers
	}
	if c.Ports.MaxInstances <= 0 {
		c.Ports.MaxInstances = 5
	}
	if c.Ports.OffsetStep <= 0 {
		c.Ports.OffsetStep = 10
	}
	if len(c.Ports.Base) == 0 {
		c.Ports.Base = []BasePort{{Port: 3000, Env: "PORT"}}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:7433"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.Repo.Root, ".arbor")
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Repo.Root == "" {
		return fmt.Errorf("repo root is required")
	}
	if c.Repo.WorktreesDir == "" {
		return fmt.Errorf("worktrees directory is required")
	}
	if c.Dev.Command == "" {
		return fmt.Errorf("dev command is required")
	}
	if c.Ports.MaxInstances < 1 {
		return fmt.Errorf("max_instances must be at least 1, got %d", c.Ports.MaxInstances)
	}
	if c.Ports.OffsetStep < 1 {
		return fmt.Errorf("offset_step must be at least 1, got %d", c.Ports.OffsetStep)
	}
	for _, bp := range c.Ports.Base {
		if bp.Port <= 0 || bp.Port > 65535 {
			return fmt.Errorf("base port %d is out of range", bp.Port)
		}
		if bp.Env == "" {
			return fmt.Errorf("base port %d has no env var name", bp.Port)
		}
	}
	return nil
}
