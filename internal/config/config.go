// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ledgerpulse/internal/changefeed"
	"ledgerpulse/internal/notify"
	"ledgerpulse/internal/reaction"
	"ledgerpulse/internal/realtime"
)

// StorageConfig holds MongoDB connection settings.
type StorageConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

func (c *StorageConfig) ApplyDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "ledgerpulse"
	}
}

// Config holds the application configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`

	Changefeed changefeed.Config `yaml:"changefeed"`
	Realtime   realtime.Config   `yaml:"realtime"`
	Reaction   reaction.Config   `yaml:"reaction"`
	Notify     notify.Config     `yaml:"notify"`
}

// Load reads configuration from the given file, fills gaps with
// defaults, and validates the result. A missing file is not an error;
// defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Logging:    DefaultLoggingConfig(),
		Changefeed: changefeed.DefaultConfig(),
		Reaction:   reaction.DefaultConfig(),
		Notify:     notify.DefaultConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Logging.ApplyDefaults()
	cfg.Storage.ApplyDefaults()
	cfg.Changefeed.ApplyDefaults()
	cfg.Realtime.ApplyDefaults()
	cfg.Reaction.ApplyDefaults()
	cfg.Notify.ApplyDefaults()

	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Realtime.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
