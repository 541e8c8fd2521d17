// Package config loads and validates the Warren agent configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent is the agent configuration. The spool directory is where durable
// per-transaction results live; the modules directory is a flat directory
// of executables; the modules config directory holds one optional
// <module-name>.conf JSON file per external module.
type Agent struct {
	SpoolDir         string `yaml:"spool_dir"`
	ModulesDir       string `yaml:"modules_dir,omitempty"`
	ModulesConfigDir string `yaml:"modules_config_dir,omitempty"`
}

// Load reads and validates an agent configuration from a YAML file.
func Load(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Agent
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate performs strict validation on the configuration.
// The modules directories are optional: an agent with no external modules
// still serves its built-ins.
func (a *Agent) Validate() error {
	if a.SpoolDir == "" {
		return fmt.Errorf("spool_dir is required")
	}

	if a.ModulesDir != "" {
		info, err := os.Stat(a.ModulesDir)
		if err != nil {
			return fmt.Errorf("modules_dir does not exist: %s", a.ModulesDir)
		}
		if !info.IsDir() {
			return fmt.Errorf("modules_dir is not a directory: %s", a.ModulesDir)
		}
	}

	return nil
}
