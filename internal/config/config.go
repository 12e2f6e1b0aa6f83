// Package config provides configuration management for the harvester.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hcharvest/pkg/utils"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIToken       = "HELPCENTER_API_TOKEN"
	EnvLegacyAPIToken = "INTERCOM_API_TOKEN"
	EnvBaseURL        = "HELPCENTER_BASE_URL"
	EnvOutputDir      = "HELPCENTER_OUTPUT_DIR"
)

// Converter engine names.
const (
	ConverterNative  = "native"
	ConverterLibrary = "library"
)

// Configuration validation errors.
var (
	ErrMissingToken             = errors.New("api.token is required (set " + EnvAPIToken + ")")
	ErrMissingBaseURL           = errors.New("api.base_url is required")
	ErrInvalidBaseURL           = errors.New("api.base_url must be an absolute http(s) URL")
	ErrInvalidPerPage           = errors.New("api.per_page must be between 1 and 250")
	ErrInvalidRateLimit         = errors.New("api.requests_per_second must be positive")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrMissingOutputPath        = errors.New("output.base_path is required")
	ErrInvalidNameLength        = errors.New("output.max_name_length must be at least 16")
	ErrInvalidConcurrency       = errors.New("harvest.concurrency must be at least 1")
	ErrInvalidConverter         = errors.New("harvest.converter must be 'native' or 'library'")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("logging.format must be 'text' or 'json'")
)

// Config represents the complete harvester configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Retry   RetryPolicy   `yaml:"retry"`
	Output  OutputConfig  `yaml:"output"`
	Harvest HarvestConfig `yaml:"harvest"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig describes the help-center API endpoint.
type APIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Token             string  `yaml:"-"`
	Version           string  `yaml:"version"`
	PerPage           int     `yaml:"per_page"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// OutputConfig defines where and how the tree is written.
type OutputConfig struct {
	BasePath      string `yaml:"base_path"`
	MaxNameLength int    `yaml:"max_name_length"`
	Frontmatter   bool   `yaml:"frontmatter"`
}

// HarvestConfig tunes the pipeline.
type HarvestConfig struct {
	Converter    string `yaml:"converter"`
	State        string `yaml:"state"`
	Concurrency  int    `yaml:"concurrency"`
	Limit        int    `yaml:"limit"`
	VerifyOutput bool   `yaml:"verify_output"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://api.intercom.io",
			Version:           "2.11",
			PerPage:           50,
			RequestsPerSecond: 15,
			Burst:             5,
		},
		Retry: RetryPolicy{
			MaxAttempts:       5,
			InitialDelayMs:    500,
			MaxDelayMs:        30000,
			BackoffMultiplier: 2.0,
			TimeoutSec:        30,
		},
		Output: OutputConfig{
			BasePath:      "output",
			MaxNameLength: 100,
			Frontmatter:   true,
		},
		Harvest: HarvestConfig{
			Converter:   ConverterNative,
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file layered over Default.
// An empty path yields the defaults. The result is not validated; call
// ApplyEnv and then Validate once every source has been applied.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// ApplyEnv loads dotenv files (missing files are ignored) and applies
// environment overrides. Variables already set in the process win over the files.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if token := os.Getenv(EnvAPIToken); token != "" {
		c.API.Token = token
	} else if token := os.Getenv(EnvLegacyAPIToken); token != "" {
		c.API.Token = token
	}

	if baseURL := os.Getenv(EnvBaseURL); baseURL != "" {
		c.API.BaseURL = baseURL
	}

	if out := os.Getenv(EnvOutputDir); out != "" {
		c.Output.BasePath = out
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.Token) == "" {
		return ErrMissingToken
	}

	if c.API.BaseURL == "" {
		return ErrMissingBaseURL
	}

	if !utils.NewHTTPHelper().IsValidURL(c.API.BaseURL) {
		return ErrInvalidBaseURL
	}

	if c.API.PerPage < 1 || c.API.PerPage > 250 {
		return ErrInvalidPerPage
	}

	if c.API.RequestsPerSecond <= 0 {
		return ErrInvalidRateLimit
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Output.BasePath == "" {
		return ErrMissingOutputPath
	}

	if c.Output.MaxNameLength < 16 {
		return ErrInvalidNameLength
	}

	if c.Harvest.Concurrency < 1 {
		return ErrInvalidConcurrency
	}

	if c.Harvest.Converter != ConverterNative && c.Harvest.Converter != ConverterLibrary {
		return ErrInvalidConverter
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}

	return nil
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
// Attempt 1 is the initial request and has no delay.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 2; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	// Cap at max delay
	if rp.MaxDelayMs > 0 && delayMs > float64(rp.MaxDelayMs) {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// GetMaxDelay returns the backoff ceiling.
func (rp *RetryPolicy) GetMaxDelay() time.Duration {
	return time.Duration(rp.MaxDelayMs) * time.Millisecond
}

// GetTimeout returns the per-request timeout.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// ArticlesDir is the directory holding the Markdown tree.
func (c *Config) ArticlesDir() string {
	return filepath.Join(c.Output.BasePath, "articles")
}

// ImagesDir is the shared images directory.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.Output.BasePath, "images")
}

// IndexPath is the location of the metadata index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Output.BasePath, "articles_metadata.json")
}

// String returns a string representation of the config. The token is never included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{BaseURL: %s, PerPage: %d, MaxAttempts: %d, Concurrency: %d, Output: %s}",
		c.API.BaseURL,
		c.API.PerPage,
		c.Retry.MaxAttempts,
		c.Harvest.Concurrency,
		c.Output.BasePath,
	)
}
