package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.agentdesk/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// storage:
//   path: ~/.agentdesk/agentdesk.db
// completion:
//   provider: google
//   model: gemini-2.5-flash
//   api_key: ""
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Completion CompletionConfig `yaml:"completion"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type StorageConfig struct {
	Path *string `yaml:"path"`
}

// CompletionConfig holds the account-level completion defaults. Agents can
// carry a per-agent API key override; this is the fallback credential.
type CompletionConfig struct {
	Provider *string `yaml:"provider"`
	Model    *string `yaml:"model"`
	APIKey   *string `yaml:"api_key"`
	BaseURL  *string `yaml:"base_url"`
}

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 8090
	DefaultProvider = "google"
	DefaultModel    = "gemini-2.5-flash"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".agentdesk")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.agentdesk/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions; the file may hold an API key.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

// Port returns the listen port. The AGENTDESK_PORT environment variable wins
// over the config file.
func (c *AppConfig) Port() int {
	if v := strings.TrimSpace(os.Getenv("AGENTDESK_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// StoragePath returns the sqlite database path, defaulting to
// ~/.agentdesk/agentdesk.db next to the config file.
func (c *AppConfig) StoragePath() string {
	if c != nil && c.Storage.Path != nil && strings.TrimSpace(*c.Storage.Path) != "" {
		return *c.Storage.Path
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "agentdesk.db"
	}
	return filepath.Join(configDir, "agentdesk.db")
}

func (c *AppConfig) CompletionProvider() string {
	if c == nil || c.Completion.Provider == nil {
		return DefaultProvider
	}
	v := strings.TrimSpace(*c.Completion.Provider)
	if v == "" {
		return DefaultProvider
	}
	return v
}

func (c *AppConfig) CompletionModel() string {
	if c == nil || c.Completion.Model == nil {
		return DefaultModel
	}
	v := strings.TrimSpace(*c.Completion.Model)
	if v == "" {
		return DefaultModel
	}
	return v
}

// CompletionAPIKey returns the fallback credential. The AGENTDESK_API_KEY
// environment variable wins over the config file.
func (c *AppConfig) CompletionAPIKey() string {
	if v := strings.TrimSpace(os.Getenv("AGENTDESK_API_KEY")); v != "" {
		return v
	}
	if c == nil || c.Completion.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(*c.Completion.APIKey)
}

func (c *AppConfig) CompletionBaseURL() string {
	if c == nil || c.Completion.BaseURL == nil {
		return ""
	}
	return strings.TrimSpace(*c.Completion.BaseURL)
}

func ptr[T any](v T) *T { return &v }
