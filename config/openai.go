package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	llmopenai "github.com/amparo-app/engine/llm/openai"
)

// LoadOpenAIConfig resolves OpenAI settings, with environment variables
// overriding the config file. Returns key, base URL, model, organization.
func LoadOpenAIConfig(cfg *Config) (apiKey, baseURL, model, organization string) {
	if cfg != nil {
		apiKey = cfg.OpenAI.APIKey
		baseURL = cfg.OpenAI.BaseURL
		model = cfg.OpenAI.Model
		organization = cfg.OpenAI.Organization
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if envBase := os.Getenv("OPENAI_BASE_URL"); envBase != "" {
		baseURL = envBase
	}
	if envModel := os.Getenv("OPENAI_MODEL"); envModel != "" {
		model = envModel
	}
	if envOrg := os.Getenv("OPENAI_ORG_ID"); envOrg != "" {
		organization = envOrg
	}
	return apiKey, baseURL, model, organization
}

// NewOpenAIClient creates an OpenAI LLM client from the configuration.
func NewOpenAIClient(cfg *Config, logger zerolog.Logger) (*llmopenai.Client, error) {
	apiKey, baseURL, model, organization := LoadOpenAIConfig(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	return llmopenai.NewClient(apiKey, baseURL, model, organization, logger)
}
