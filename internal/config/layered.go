package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/internal/safe"
)

// Layer represents a configuration layer source.
type Layer string

const (
	// LayerDefaults represents default configuration values.
	LayerDefaults Layer = "defaults"

	// LayerFile represents configuration from a file.
	LayerFile Layer = "file"

	// LayerEnv represents configuration from environment variables.
	LayerEnv Layer = "env"
)

// LayeredLoader provides layered configuration loading.
// Configuration is loaded in the following order:
// 1. Defaults - DefaultConfig()
// 2. File - zoltan.yaml
// 3. Environment - ZOLTAN_* variables
//
// Each layer overrides values from previous layers. Command-line flags are
// applied by the CLI on top of the result.
type LayeredLoader struct {
	enabledLayers map[Layer]bool
}

// NewLayeredLoader creates a new layered configuration loader with every
// layer enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
		},
	}
}

// EnableLayer enables a specific configuration layer.
func (l *LayeredLoader) EnableLayer(layer Layer) {
	l.enabledLayers[layer] = true
}

// DisableLayer disables a specific configuration layer.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// Load loads the configuration with layered precedence. A missing file at
// configPath is not an error; an empty configPath skips the file layer.
func (l *LayeredLoader) Load(configPath string) (*Config, error) {
	var cfg *Config

	if l.enabledLayers[LayerDefaults] {
		cfg = DefaultConfig()
	} else {
		cfg = &Config{}
	}

	if l.enabledLayers[LayerFile] && configPath != "" {
		if err := mergeFromFile(cfg, configPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
	}

	return cfg, nil
}

// FindConfigFile returns the project configuration file that applies to the
// declaration source at sourcePath: zoltan.yaml in the same directory. The
// result is empty when no such file exists.
func FindConfigFile(sourcePath string) string {
	candidate := filepath.Join(filepath.Dir(sourcePath), constants.ConfigFile)
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		return candidate
	}
	return ""
}

// mergeFromFile loads configuration from a YAML file and merges it into cfg.
func mergeFromFile(cfg *Config, filePath string) error {
	data, err := safe.ReadFile(filePath, nil)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// Save writes cfg as YAML to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := safe.WriteFile(path, data, nil); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
