// Package config provides configuration loading and management.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/videodec/pkg/ports"
)

// Config represents the full configuration for videodec.
type Config struct {
	// Component
	ComponentName   string `yaml:"component_name"`
	Codec           string `yaml:"codec"`
	InputBufferSize uint32 `yaml:"input_buffer_size"`
	BlockPoolID     uint64 `yaml:"block_pool_id"`

	// MaxConcurrentInstances caps live decode instances process-wide.
	// Negative means unlimited.
	MaxConcurrentInstances int `yaml:"max_concurrent_instances"`

	// Device
	DevicePath string `yaml:"device_path"`

	// Output
	OutputDir string `yaml:"output_dir"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		ComponentName:          "c2.v4l2.avc.decoder",
		Codec:                  "h264",
		InputBufferSize:        1 << 20,
		MaxConcurrentInstances: -1,
		OutputDir:              "./frames",
		LogLevel:               "info",
	}
}

// LoadFromFile loads configuration from a YAML file on top of the
// defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Level parses the configured log level.
func (c Config) Level() ports.LogLevel {
	return ports.ParseLogLevel(c.LogLevel)
}
