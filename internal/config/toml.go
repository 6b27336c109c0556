package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// MarshalTOML round-trips the active config back to its TOML-shaped form.
// Used by the TOML round-trip test.
func (c *Config) MarshalTOML() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("marshal config to toml: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadFromTOMLBytes parses a TOML document directly, bypassing viper. Used
// to prove round-trip equivalence without relying on the file system.
func LoadFromTOMLBytes(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("decode toml config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// WriteTOML writes the config to path in TOML form.
func (c *Config) WriteTOML(path string) error {
	data, err := c.MarshalTOML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
