package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a user configuration file.
// The encoding is chosen by extension: .toml parses as TOML, everything else
// (including .json, since YAML is a superset) parses as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	content, err := readExpanded(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if isTOML(path) {
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// LoadFromReader parses YAML/JSON user configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// LoadSystem reads a system configuration (provider-type templates) and merges
// it over the built-in defaults. An empty path returns the defaults unchanged.
func LoadSystem(path string) (*SystemConfig, error) {
	defaults := DefaultSystemConfig()
	if path == "" {
		return defaults, nil
	}

	content, err := readExpanded(path)
	if err != nil {
		return nil, err
	}

	var overlay SystemConfig
	if isTOML(path) {
		if err := toml.Unmarshal(content, &overlay); err != nil {
			return nil, fmt.Errorf("failed to parse system config TOML: %w", err)
		}
	} else if err := yaml.Unmarshal(content, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse system config YAML: %w", err)
	}

	return defaults.Merge(&overlay), nil
}

func readExpanded(path string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	return []byte(os.ExpandEnv(string(content))), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
