package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/goswarm/internal/config"
)

// Base URLs for providers that expose an OpenAI-compatible endpoint.
const (
	geminiCompatBase    = "https://generativelanguage.googleapis.com/v1beta/openai"
	dashscopeCompatBase = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
)

// New builds the model client for the configured provider. All supported
// backends speak the OpenAI chat completions protocol; unknown provider
// names work too as long as a base URL is configured.
func New(cfg config.ProviderConfig) (Client, error) {
	apiKey := ResolveAPIKey(cfg.Name, cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider %q: set provider.api_key, %s, or the OS keyring", cfg.Name, APIKeyEnvName(cfg.Name))
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Name {
		case "openai", "":
			baseURL = openAIDefaultBase
		case "gemini":
			baseURL = geminiCompatBase
		case "dashscope":
			baseURL = dashscopeCompatBase
		default:
			return nil, fmt.Errorf("provider %q needs an explicit base_url", cfg.Name)
		}
	}

	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.Attempts = cfg.MaxRetries
	}

	return NewOpenAIClient(OpenAIConfig{
		Name:    cfg.Name,
		APIKey:  apiKey,
		BaseURL: baseURL,
		Retry:   retry,
	}), nil
}
