// Package config provides configuration loading and structs for the Margo server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Render  RenderConfig  `yaml:"render"`
	AI      AIConfig      `yaml:"ai"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RenderConfig holds page rendering settings.
type RenderConfig struct {
	// Pdftoppm is the binary name or path of the renderer.
	Pdftoppm string `yaml:"pdftoppm"`
	// MaxScale caps the zoom factor accepted from clients.
	MaxScale float64 `yaml:"max_scale"`
}

// AIConfig holds AI backend selection and credentials.
type AIConfig struct {
	// Default names the backend used when a request does not pick one.
	Default   string        `yaml:"default"`
	OpenAI    BackendConfig `yaml:"openai"`
	Anthropic BackendConfig `yaml:"anthropic"`
	Gemini    BackendConfig `yaml:"gemini"`
	// SystemPrompt overrides the built-in assistant framing.
	SystemPrompt string `yaml:"system_prompt"`
}

// BackendConfig holds one AI backend's credentials and model choice. A
// backend with no API key is left unconfigured.
type BackendConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the backend has credentials.
func (b *BackendConfig) Configured() bool {
	return b.APIKey != ""
}

// StorageConfig holds paths for the history database and session exports.
type StorageConfig struct {
	HistoryPath string `yaml:"history_path"`
	SessionsDir string `yaml:"sessions_dir"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.HistoryPath = expandPath(cfg.Storage.HistoryPath, configDir)
	cfg.Storage.SessionsDir = expandPath(cfg.Storage.SessionsDir, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
