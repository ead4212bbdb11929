package providers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "goswarm"

// ResolveAPIKey finds the API key for a provider, in precedence order:
// explicit config value, <PROVIDER>_API_KEY environment variable, then
// the OS keyring. Returns "" when nothing is set.
func ResolveAPIKey(providerName, configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv(APIKeyEnvName(providerName)); v != "" {
		return v
	}
	if v, err := keyring.Get(keyringService, providerName); err == nil && v != "" {
		return v
	}
	return ""
}

// APIKeyEnvName returns the environment variable consulted for a provider,
// e.g. "OPENAI_API_KEY" for "openai".
func APIKeyEnvName(providerName string) string {
	if providerName == "" {
		providerName = "openai"
	}
	return strings.ToUpper(strings.ReplaceAll(providerName, "-", "_")) + "_API_KEY"
}

// StoreAPIKey saves a provider API key in the OS keyring.
func StoreAPIKey(providerName, key string) error {
	if err := keyring.Set(keyringService, providerName, key); err != nil {
		return fmt.Errorf("store credential for %s: %w", providerName, err)
	}
	return nil
}

// DeleteAPIKey removes a provider API key from the OS keyring. Deleting a
// key that was never stored is not an error.
func DeleteAPIKey(providerName string) error {
	err := keyring.Delete(keyringService, providerName)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete credential for %s: %w", providerName, err)
	}
	return nil
}
