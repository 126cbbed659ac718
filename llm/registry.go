package llm

import (
	"fmt"
	"os"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// Preference is a single provider/model choice in priority order.
type Preference struct {
	Provider string
	Model    string
}

// ClientKey uniquely identifies a resolved provider client configuration.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string // credential-based providers
	Host         string // ollama
	BaseURL      string // openai
	Organization string // openai
}

// ProviderConfig holds the credentials and defaults for each provider.
type ProviderConfig struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OllamaHost      string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIOrg       string
}

// ProviderRegistry resolves provider preferences against enabled and
// configured providers. Client construction is left to the caller.
type ProviderRegistry struct {
	enabled map[string]bool
	mu      sync.RWMutex
	config  *ProviderConfig
}

// NewProviderRegistry creates a registry with the given config and enabled providers.
func NewProviderRegistry(providerConfig *ProviderConfig, enabledProviders []string) *ProviderRegistry {
	enabled := make(map[string]bool)
	for _, p := range enabledProviders {
		enabled[p] = true
	}
	return &ProviderRegistry{
		enabled: enabled,
		config:  providerConfig,
	}
}

// IsProviderEnabled checks if a provider is in the enabled list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[provider]
}

// IsProviderConfigured checks if a provider has the configuration it needs.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isConfiguredUnlocked(provider)
}

// Resolve returns a ClientKey for the first enabled and configured provider
// from the preference list. With no preferences it falls back to the first
// enabled provider and its default model.
func (r *ProviderRegistry) Resolve(prefs []Preference) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(prefs) > 0 {
		var attempted []string
		for _, pref := range prefs {
			attempted = append(attempted, pref.Provider)
			if !r.enabled[pref.Provider] {
				continue
			}
			if !r.isConfiguredUnlocked(pref.Provider) {
				continue
			}
			key, err := r.resolveProvider(pref.Provider, pref.Model)
			if err != nil {
				continue
			}
			return key, nil
		}
		return nil, fmt.Errorf("no available provider from preferences %v (enabled: %v)", attempted, r.enabledList())
	}

	if len(r.enabled) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	var first string
	for p := range r.enabled {
		first = p
		break
	}
	if !r.isConfiguredUnlocked(first) {
		return nil, fmt.Errorf("first enabled provider %s is not configured", first)
	}
	key, err := r.resolveProvider(first, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config for provider %s: %w", first, err)
	}
	return key, nil
}

// isConfiguredUnlocked must be called with r.mu held.
func (r *ProviderRegistry) isConfiguredUnlocked(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		return r.config.AnthropicAPIKey != ""
	case ProviderOllama:
		// No API key; host has a default.
		return true
	case ProviderOpenAI:
		apiKey := r.config.OpenAIAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return apiKey != ""
	default:
		return false
	}
}

func (r *ProviderRegistry) resolveProvider(provider, modelOverride string) (*ClientKey, error) {
	key := &ClientKey{
		Provider: provider,
		Model:    modelOverride,
	}

	switch provider {
	case ProviderAnthropic:
		if r.config.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		key.APIKey = r.config.AnthropicAPIKey
		if key.Model == "" {
			key.Model = r.config.AnthropicModel
		}
		if key.Model == "" {
			key.Model = "claude-haiku-4-5"
		}

	case ProviderOllama:
		host := r.config.OllamaHost
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		key.Host = host

		if key.Model == "" {
			key.Model = r.config.OllamaModel
		}
		if key.Model == "" {
			key.Model = os.Getenv("OLLAMA_MODEL")
		}
		if key.Model == "" {
			return nil, fmt.Errorf("ollama model not specified and no default configured")
		}

	case ProviderOpenAI:
		apiKey := r.config.OpenAIAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		key.APIKey = apiKey

		baseURL := r.config.OpenAIBaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		key.BaseURL = baseURL

		org := r.config.OpenAIOrg
		if org == "" {
			org = os.Getenv("OPENAI_ORG_ID")
		}
		key.Organization = org

		if key.Model == "" {
			key.Model = r.config.OpenAIModel
		}
		if key.Model == "" {
			key.Model = os.Getenv("OPENAI_MODEL")
		}

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	return key, nil
}

func (r *ProviderRegistry) enabledList() []string {
	var providers []string
	for p := range r.enabled {
		providers = append(providers, p)
	}
	return providers
}
