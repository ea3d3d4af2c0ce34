package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	keychainService       = "snaplearn"
	keychainAPIKeyAccount = "gemini_api_key"
	keychainTokenAccount  = "api_token"
)

// Keychain abstracts the platform secret store: macOS Keychain via the
// `security` CLI, a permissions-restricted secrets file elsewhere.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// RequireAPIKey returns the configured Gemini API key or an error with a
// platform-appropriate hint on where to put it.
func RequireAPIKey(cfg Config) (string, error) {
	if cfg.Gemini.APIKey != "" {
		return cfg.Gemini.APIKey, nil
	}
	return "", fmt.Errorf(
		"missing Gemini API key. Set it via environment variable SNAPLEARN_GEMINI_API_KEY%s",
		apiKeyHint(),
	)
}

// SetAPIKey stores the Gemini API key in the platform secret store.
func SetAPIKey(kc Keychain, key string) error {
	return kc.Set(keychainService, keychainAPIKeyAccount, key)
}

// GetAPIToken returns the bearer token protecting the local management API,
// generating and persisting one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	token, err := kc.Get(keychainService, keychainTokenAccount)
	if err == nil && token != "" {
		return token, nil
	}

	token = uuid.New().String()
	if err := kc.Set(keychainService, keychainTokenAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
