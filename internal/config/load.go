package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the name of the engine's configuration file.
const ConfigFileName = "phase-golem.toml"

// FindConfigFile walks up from startDir to find phase-golem.toml, stopping
// at the filesystem root. Returns an empty string (no error) if not found.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// LoadFromFile parses the TOML file at path and returns the configuration
// together with the decode metadata, which validateUnknownKeys uses to
// flag keys that did not map to any struct field.
func LoadFromFile(path string) (*Config, *toml.MetaData, error) {
	cfg := NewDefaults()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, &md, nil
}
