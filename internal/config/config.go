// Package config loads svcforge configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig bounds the repair loop.
type PipelineConfig struct {
	// MaxRepairAttempts is the shared attempt budget covering dependency
	// retries and full repair cycles alike.
	MaxRepairAttempts  int    `yaml:"max_repair_attempts"`
	ExecutionTimeoutMs int    `yaml:"execution_timeout_ms"`
	LeniencyMode       string `yaml:"leniency_mode"` // "strict" or "lenient"
	TestWorkers        int    `yaml:"test_workers"`
}

// OracleConfig selects and tunes the generation backend.
type OracleConfig struct {
	Provider         string `yaml:"provider"` // "openai" or "gemini"
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	MaxOutputTokens  int    `yaml:"max_output_tokens"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	TransportRetries int    `yaml:"transport_retries"`
}

// StoreConfig locates the service record database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Config is the full svcforge configuration.
type Config struct {
	Workspace string         `yaml:"workspace"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	Oracle    OracleConfig   `yaml:"oracle"`
	Store     StoreConfig    `yaml:"store"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	ws, err := os.Getwd()
	if err != nil {
		ws = "."
	}
	return &Config{
		Workspace: ws,
		Pipeline: PipelineConfig{
			MaxRepairAttempts:  5,
			ExecutionTimeoutMs: 10000,
			LeniencyMode:       "lenient",
			TestWorkers:        4,
		},
		Oracle: OracleConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			MaxOutputTokens:  8192,
			TimeoutMs:        60000,
			TransportRetries: 2,
		},
		Store: StoreConfig{
			Path: filepath.Join(ws, ".forge", "services.db"),
		},
		Logging: LoggingConfig{
			Enabled: false,
			Dir:     filepath.Join(ws, ".forge", "logs"),
			Level:   "info",
		},
	}
}

// Load reads the config file at path, overlaying it on defaults. A missing
// file yields defaults. FORGE_API_KEY always overrides the file value so
// keys never have to live on disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if key := os.Getenv("FORGE_API_KEY"); key != "" {
		cfg.Oracle.APIKey = key
	}
	if base := os.Getenv("FORGE_BASE_URL"); base != "" {
		cfg.Oracle.BaseURL = base
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxRepairAttempts < 0 {
		return fmt.Errorf("max_repair_attempts must be >= 0, got %d", c.Pipeline.MaxRepairAttempts)
	}
	if c.Pipeline.ExecutionTimeoutMs <= 0 {
		return fmt.Errorf("execution_timeout_ms must be > 0, got %d", c.Pipeline.ExecutionTimeoutMs)
	}
	switch c.Pipeline.LeniencyMode {
	case "strict", "lenient":
	default:
		return fmt.Errorf("leniency_mode must be \"strict\" or \"lenient\", got %q", c.Pipeline.LeniencyMode)
	}
	if c.Pipeline.TestWorkers <= 0 {
		c.Pipeline.TestWorkers = 1
	}
	if c.Oracle.TransportRetries < 0 {
		return fmt.Errorf("transport_retries must be >= 0, got %d", c.Oracle.TransportRetries)
	}
	return nil
}

// ExecutionTimeout returns the per-execution sandbox deadline.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Pipeline.ExecutionTimeoutMs) * time.Millisecond
}

// OracleTimeout returns the per-call oracle deadline.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutMs) * time.Millisecond
}
