package config

import (
	"strings"
)

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Storage StorageConfig
	OCR     OCRConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type GeminiConfig struct {
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	APIKey          string
}

type StorageConfig struct {
	DataDir string
}

type OCRConfig struct {
	Binary string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       4600,
			MCPEnabled: true,
		},
		Gemini: GeminiConfig{
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Model:           "gemini-1.5-flash",
			Temperature:     0.7,
			MaxOutputTokens: 2048,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		OCR: OCRConfig{
			Binary: "tesseract",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.snaplearn.app) and the
// Gemini API key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/snaplearn/config.json
// and secrets fall back to a secrets file under $XDG_DATA_HOME.
//
// Environment variables (SNAPLEARN_*) override backend values on all
// platforms. A missing API key is not a load error; commands that talk to
// Gemini check for it and print a hint (see RequireAPIKey).
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get(keychainService, keychainAPIKeyAccount); err == nil {
			cfg.Gemini.APIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}
