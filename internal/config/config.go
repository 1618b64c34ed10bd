// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package config loads polychat configuration.
//
// Supports both TOML and JSON formats with built-in defaults and environment
// variable overrides. File locations, in order of precedence:
//   - ~/.polychat/config.toml
//   - ~/.polychat/config.json
//   - Built-in defaults
//
// A .env file in the working directory or the config directory is loaded
// first, so provider API keys can live there instead of the shell profile.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig indicates the configuration failed to parse or validate.
// Fatal at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete polychat configuration.
type Config struct {
	// DefaultModel is the friendly name selected at startup. Empty means
	// the first registry entry.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// DefaultSystemPrompt is applied to new sessions. Empty disables it.
	DefaultSystemPrompt string `toml:"default_system_prompt" json:"default_system_prompt"`

	// RegistryPath overrides the models.json location.
	RegistryPath string `toml:"registry_path" json:"registry_path"`

	// ConversationsDir overrides where transcripts are saved.
	ConversationsDir string `toml:"conversations_dir" json:"conversations_dir"`

	Sampling  SamplingConfig            `toml:"sampling" json:"sampling"`
	Providers map[string]ProviderConfig `toml:"providers" json:"providers"`
	Pricing   map[string]PricingConfig  `toml:"pricing" json:"pricing"`
	History   HistoryConfig             `toml:"history" json:"history"`
	Logging   LoggingConfig             `toml:"logging" json:"logging"`
	UI        UIConfig                  `toml:"ui" json:"ui"`
}

// SamplingConfig holds the parameters sent with every completion.
type SamplingConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
}

// ProviderConfig describes one completion provider.
type ProviderConfig struct {
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `toml:"base_url" json:"base_url"`

	// APIKey is the literal key. Prefer APIKeyEnv.
	APIKey string `toml:"api_key" json:"api_key"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env"`

	// RequestsPerMinute throttles this provider. Zero disables throttling.
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// ResolveAPIKey returns the literal key or the value of APIKeyEnv.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// PricingConfig is the per-million-token cost of a model, keyed by
// connection string in the [pricing] table.
type PricingConfig struct {
	PromptPerMTok     float64 `toml:"prompt_per_mtok" json:"prompt_per_mtok"`
	CompletionPerMTok float64 `toml:"completion_per_mtok" json:"completion_per_mtok"`
}

// HistoryConfig bounds the in-memory conversation.
type HistoryConfig struct {
	// MaxMessages caps history length. Zero disables pruning.
	MaxMessages int `toml:"max_messages" json:"max_messages"`

	// MaxConversations caps saved transcripts. Zero means unlimited.
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// LoggingConfig controls the diagnostic log.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format"`

	// File overrides the log file path. Empty means polychat.log in the
	// config dir.
	File string `toml:"file" json:"file"`
}

// UIConfig controls terminal output.
type UIConfig struct {
	// Markdown renders assistant replies through glamour on TTYs.
	Markdown bool `toml:"markdown" json:"markdown"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSystemPrompt: "You are a helpful assistant.",
		Sampling: SamplingConfig{
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
			},
			"openrouter": {
				BaseURL:   "https://openrouter.ai/api/v1",
				APIKeyEnv: "OPENROUTER_API_KEY",
			},
			"ollama": {
				BaseURL: "http://localhost:11434/v1",
			},
		},
		History: HistoryConfig{
			MaxMessages:      1000,
			MaxConversations: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		UI: UIConfig{
			Markdown: true,
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the polychat configuration directory (~/.polychat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".polychat"), nil
}

// EnsureConfigDir creates the config directory if missing.
func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// RegistryFile returns the effective models.json path.
func (c *Config) RegistryFile(configDir string) string {
	if c.RegistryPath != "" {
		return c.RegistryPath
	}
	return filepath.Join(configDir, "models.json")
}

// ConversationsPath returns the effective transcripts directory.
func (c *Config) ConversationsPath(configDir string) string {
	if c.ConversationsDir != "" {
		return c.ConversationsDir
	}
	return filepath.Join(configDir, "conversations")
}

// LogFile returns the effective diagnostic log path.
func (c *Config) LogFile(configDir string) string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(configDir, "polychat.log")
}

// LedgerFile returns the usage database path.
func (c *Config) LedgerFile(configDir string) string {
	return filepath.Join(configDir, "usage.db")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from dir, applying defaults and environment
// overrides. A missing config file is not an error; an unparseable one is.
func Load(dir string) (*Config, error) {
	// Secrets first: .env in the working directory, then the config dir.
	// Already-set variables win, matching godotenv's no-override default.
	godotenv.Load()
	godotenv.Load(filepath.Join(dir, ".env"))

	cfg := Default()

	tomlPath := filepath.Join(dir, "config.toml")
	jsonPath := filepath.Join(dir, "config.json")

	switch {
	case fileExists(tomlPath):
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, tomlPath, err)
		}
	case fileExists(jsonPath):
		data, err := os.ReadFile(jsonPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, jsonPath, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, jsonPath, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ApplyEnvOverrides applies POLYCHAT_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("POLYCHAT_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("POLYCHAT_SYSTEM_PROMPT"); v != "" {
		c.DefaultSystemPrompt = v
	}
	if v := os.Getenv("POLYCHAT_REGISTRY"); v != "" {
		c.RegistryPath = v
	}
	if v := os.Getenv("POLYCHAT_CONVERSATIONS_DIR"); v != "" {
		c.ConversationsDir = v
	}
	if v := os.Getenv("POLYCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("POLYCHAT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sampling.Temperature = f
		}
	}
	if v := os.Getenv("POLYCHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sampling.MaxTokens = n
		}
	}
	if v := os.Getenv("POLYCHAT_MARKDOWN"); v != "" {
		c.UI.Markdown = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks value ranges. Called by Load; callers constructing a
// Config directly should call it too.
func (c *Config) Validate() error {
	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2 {
		return fmt.Errorf("sampling.temperature %v out of range [0, 2]", c.Sampling.Temperature)
	}
	if c.Sampling.MaxTokens < 0 {
		return fmt.Errorf("sampling.max_tokens must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	for name, p := range c.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q has no base_url", name)
		}
	}
	return nil
}
