// Package config loads and layers the daemon's configuration: built-in
// defaults, an optional YAML config file, and environment variables for
// secrets, each layer overriding the one below it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig configures the Anthropic LLM provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OllamaConfig configures the Ollama LLM provider.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`
	Model string `yaml:"model,omitempty"`
}

// OpenAIConfig configures the OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// LLMPreference is a single provider/model preference. The daemon uses the
// first enabled and configured provider from the ordered list.
type LLMPreference struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
}

// DatabaseConfig locates the sqlite database.
type DatabaseConfig struct {
	Path           string `yaml:"path,omitempty"`
	MigrationsPath string `yaml:"migrations_path,omitempty"`
}

// AssistantConfig shapes the assistant turns the daemon runs.
type AssistantConfig struct {
	SystemPrompt string          `yaml:"system_prompt,omitempty"`
	MaxTokens    int64           `yaml:"max_tokens,omitempty"`
	LLM          []LLMPreference `yaml:"llm,omitempty"`
}

// StreamConfig tunes the persistence buffer for streamed output.
type StreamConfig struct {
	MinChunkSize    int `yaml:"min_chunk_size,omitempty"`
	FlushIntervalMS int `yaml:"flush_interval_ms,omitempty"`
}

// JanitorConfig tunes the abandoned-stream sweeper.
type JanitorConfig struct {
	Schedule           string `yaml:"schedule,omitempty"`
	MaxStreamingAgeMin int    `yaml:"max_streaming_age_min,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	Assistant AssistantConfig `yaml:"assistant,omitempty"`
	Stream    StreamConfig    `yaml:"stream,omitempty"`
	Janitor   JanitorConfig   `yaml:"janitor,omitempty"`

	LLMProviders []string        `yaml:"llm_providers,omitempty"`
	Anthropic    AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama       OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI       OpenAIConfig    `yaml:"openai,omitempty"`
}

// GetConfigPath returns the config file path. Can be overridden via the
// AMPARO_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("AMPARO_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.amparod/config.yaml"
	}
	return filepath.Join(homeDir, ".amparod", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path:           "~/.amparod/engine.db",
			MigrationsPath: "./migrations",
		},
		Assistant: AssistantConfig{
			MaxTokens: 2048,
			LLM: []LLMPreference{
				{Provider: "anthropic"},
			},
		},
		Stream: StreamConfig{
			MinChunkSize:    240,
			FlushIntervalMS: 2000,
		},
		Janitor: JanitorConfig{
			Schedule:           "@every 1m",
			MaxStreamingAgeMin: 5,
		},
		LLMProviders: []string{"anthropic"},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
	}
}

// Load reads the configuration at path, layering it over defaults and then
// applying environment secrets over the result. A missing file is not an
// error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		fileYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig Config
		if err := yaml.Unmarshal(fileYAML, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}

		if err := mergo.Merge(&cfg, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	applyEnv(&cfg)

	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.MigrationsPath = expandPath(cfg.Database.MigrationsPath)

	return &cfg, nil
}

// applyEnv overlays secrets and endpoints from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_ORG_ID"); v != "" {
		cfg.OpenAI.Organization = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
}

// Save writes the configuration to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
