package config

import (
	"os"

	"github.com/rs/zerolog"

	llmollama "github.com/amparo-app/engine/llm/ollama"
)

// LoadOllamaConfig resolves the Ollama host and default model, with
// environment variables overriding the config file.
func LoadOllamaConfig(cfg *Config) (host, model string) {
	if cfg != nil {
		host = cfg.Ollama.Host
		model = cfg.Ollama.Model
	}
	if envHost := os.Getenv("OLLAMA_HOST"); envHost != "" {
		host = envHost
	}
	if envModel := os.Getenv("OLLAMA_MODEL"); envModel != "" {
		model = envModel
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return host, model
}

// NewOllamaClient creates an Ollama LLM client from the configuration.
func NewOllamaClient(cfg *Config, logger zerolog.Logger) (*llmollama.Client, error) {
	host, model := LoadOllamaConfig(cfg)
	return llmollama.NewClient(host, model, logger)
}
