// Package config provides configuration types for the decrypter.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/mohaanymo/cencdec/internal/decryptor"
)

// Common errors.
var (
	ErrMissingInput = errors.New("input file is required")
	ErrMissingKey   = errors.New("decryption key is required")
	ErrSameFile     = errors.New("output must differ from input")
)

// Config holds all application configuration.
type Config struct {
	// Input
	Input string `yaml:"input"`

	// Output
	Output    string `yaml:"output"`
	OutputDir string `yaml:"outputDir"`
	Suffix    string `yaml:"suffix"`

	// Decryption
	Key            string `yaml:"key"`
	PerTrackFormat bool   `yaml:"perTrackFormat"`
	Verify         bool   `yaml:"verify"`

	// Batch settings
	MaxConcurrent int `yaml:"maxConcurrent"`

	// UI/Logging
	NoProgress bool `yaml:"noProgress"`
	Verbose    bool `yaml:"verbose"`
}

// Default configuration values.
const (
	DefaultSuffix        = "_decrypted"
	DefaultMaxConcurrent = 2

	MaxConcurrent = 32
	MinConcurrent = 1
)

// New returns a Config with sensible defaults.
func New() *Config {
	return &Config{
		Suffix:        DefaultSuffix,
		MaxConcurrent: DefaultMaxConcurrent,
	}
}

// Load reads a YAML configuration file on top of the defaults. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := New()
	if err := yaml.UnmarshalStrict(buf, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Validate checks if the configuration is valid and normalizes values.
func (c *Config) Validate() error {
	if c.Input == "" {
		return ErrMissingInput
	}
	if c.Key == "" {
		return ErrMissingKey
	}
	if err := decryptor.ValidateKey(c.Key); err != nil {
		return err
	}

	if c.Suffix == "" && c.Output == "" && c.OutputDir == "" {
		c.Suffix = DefaultSuffix
	}
	if filepath.Clean(c.OutputPath()) == filepath.Clean(c.Input) {
		return ErrSameFile
	}

	// Clamp concurrency to valid range
	if c.MaxConcurrent < MinConcurrent {
		c.MaxConcurrent = MinConcurrent
	}
	if c.MaxConcurrent > MaxConcurrent {
		c.MaxConcurrent = MaxConcurrent
	}

	return nil
}

// OutputPath returns where the decrypted file is written. Without an
// explicit Output, the input name gets Suffix before its extension and is
// placed in OutputDir, or next to the input.
func (c *Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}

	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(c.Input)
	}
	base := filepath.Base(c.Input)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+c.Suffix+ext)
}
