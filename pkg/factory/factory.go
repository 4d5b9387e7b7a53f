// Package factory loads and validates the DDIL controller configuration from
// YAML. Loading applies defaults first and rejects configurations that fail
// validation, so that the rest of the codebase can assume a sane Config.
package factory

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader provides methods to load and validate the configuration.
type Loader interface {
	Load(path string) (*Config, error)
}

// DefaultLoader is a simple YAML file loader/validator with defaults.
type DefaultLoader struct{}

// Load reads YAML from the given path, applies defaults, and validates.
func (l *DefaultLoader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// ReadConfig is a convenience wrapper around DefaultLoader for cmd/ usage.
func ReadConfig(path string) (*Config, error) {
	loader := &DefaultLoader{}
	return loader.Load(path)
}

// DefaultConfig returns a Config with every default applied and no file
// involved. It is primarily useful for tests and for embedding the
// controller as a library.
func DefaultConfig() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
