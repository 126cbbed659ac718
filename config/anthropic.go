package config

import (
	"github.com/rs/zerolog"

	llmanthropic "github.com/amparo-app/engine/llm/anthropic"
)

// NewAnthropicClient creates an Anthropic LLM client from the configuration.
func NewAnthropicClient(cfg *Config, logger zerolog.Logger) (*llmanthropic.Client, error) {
	apiKey := ""
	if cfg != nil {
		apiKey = cfg.Anthropic.APIKey
	}
	return llmanthropic.NewClient(apiKey, logger)
}
