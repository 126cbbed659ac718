package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/llm"
)

// ProviderConfig flattens the per-provider config sections, with environment
// overrides applied, into the form the provider registry consumes.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	ollamaHost, ollamaModel := LoadOllamaConfig(c)
	openaiKey, openaiBase, openaiModel, openaiOrg := LoadOpenAIConfig(c)
	return &llm.ProviderConfig{
		AnthropicAPIKey: c.Anthropic.APIKey,
		AnthropicModel:  c.Anthropic.Model,
		OllamaHost:      ollamaHost,
		OllamaModel:     ollamaModel,
		OpenAIAPIKey:    openaiKey,
		OpenAIBaseURL:   openaiBase,
		OpenAIModel:     openaiModel,
		OpenAIOrg:       openaiOrg,
	}
}

// LLMPreferences converts the assistant's ordered provider preferences.
func (c *Config) LLMPreferences() []llm.Preference {
	prefs := make([]llm.Preference, 0, len(c.Assistant.LLM))
	for _, p := range c.Assistant.LLM {
		prefs = append(prefs, llm.Preference{Provider: p.Provider, Model: p.Model})
	}
	return prefs
}

// NewLLMClient constructs a provider client for a resolved client key.
func NewLLMClient(cfg *Config, key *llm.ClientKey, logger zerolog.Logger) (llm.Client, error) {
	switch key.Provider {
	case llm.ProviderAnthropic:
		client, err := NewAnthropicClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case llm.ProviderOllama:
		client, err := NewOllamaClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case llm.ProviderOpenAI:
		client, err := NewOpenAIClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", key.Provider)
	}
}
