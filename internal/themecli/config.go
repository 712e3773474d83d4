package themecli

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// CLIConfig is the Shopify CLI configuration file
type CLIConfig struct {
	Analytics AnalyticsConfig `toml:"analytics"`
}

// AnalyticsConfig toggles CLI usage reporting
type AnalyticsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Configure writes a CLI config with analytics disabled to path. A leading ~
// is expanded to the home directory. It returns the expanded path.
func Configure(fsys afero.Fs, path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}

	if err := fsys.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(CLIConfig{}); err != nil {
		return "", fmt.Errorf("failed to encode cli config: %w", err)
	}

	if err := afero.WriteFile(fsys, expanded, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write cli config: %w", err)
	}
	return expanded, nil
}

// ReadConfig parses a CLI config file
func ReadConfig(fsys afero.Fs, path string) (*CLIConfig, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(fsys, expanded)
	if err != nil {
		return nil, err
	}
	var cfg CLIConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cli config: %w", err)
	}
	return &cfg, nil
}
