package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Listen    string `yaml:"listen"`
	JSON      bool   `yaml:"json"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads a YAML config file. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

func LoadConfigFromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}

	config := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return config, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	config.LogLevel = firstNonEmpty(strings.ToLower(strings.TrimSpace(config.LogLevel)), DefaultConfig().LogLevel)
	config.LogFormat = firstNonEmpty(strings.ToLower(strings.TrimSpace(config.LogFormat)), DefaultConfig().LogFormat)
	config.Listen = strings.TrimSpace(config.Listen)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logLevel: unsupported value %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("logFormat: unsupported value %q", c.LogFormat)
	}
	return nil
}

// Merge returns c with the non-zero fields of override applied.
func (c Config) Merge(override Config) Config {
	merged := c
	merged.LogLevel = firstNonEmpty(override.LogLevel, c.LogLevel)
	merged.LogFormat = firstNonEmpty(override.LogFormat, c.LogFormat)
	merged.Listen = firstNonEmpty(override.Listen, c.Listen)
	if override.JSON {
		merged.JSON = true
	}
	return merged
}

func firstNonEmpty(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
