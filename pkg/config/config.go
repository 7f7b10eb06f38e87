// Package config loads micasa's process configuration: built-in defaults,
// an optional YAML overlay, then environment variables, following the
// teacher's layering in pkg/config/config.go.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP/HTTPS API adapter surface.
type ServerConfig struct {
	Port    int `json:"port" yaml:"port" env:"MICASA_PORT"`
	SSLPort int `json:"sslport" yaml:"sslport" env:"MICASA_SSLPORT"`
}

// DatabaseConfig controls the SQLite-backed persistent store.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" env:"MICASA_DB_PATH"`
}

// LoggingConfig controls process-wide logging.
type LoggingConfig struct {
	Level  int    `json:"level" yaml:"level" env:"MICASA_LOGLEVEL"`
	Format string `json:"format" yaml:"format" env:"MICASA_LOGFORMAT"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    80,
			SSLPort: 0,
		},
		Database: DatabaseConfig{
			Path: "micasa.db",
		},
		Logging: LoggingConfig{
			Level:  0,
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (if
// non-empty and present), then environment variables via envdecode -
// each layer overriding the one before it.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}
