// Package config loads kumoctl configuration from an optional YAML
// file with environment-variable overrides. Environment names follow
// the original tooling: KUMO_USERNAME, KUMO_PASSWORD, KUMO_SITE_ID,
// KUMO_TOKEN_FILE and one KUMO_SERIAL_<NAME> per friendly device name.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const serialEnvPrefix = "KUMO_SERIAL_"

type Config struct {
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	SiteID    string            `yaml:"site_id"`
	TokenFile string            `yaml:"token_file"`
	BaseURL   string            `yaml:"base_url"`
	SocketURL string            `yaml:"socket_url"`
	Serials   map[string]string `yaml:"serials"`

	TokenMirror *TokenMirror `yaml:"token_mirror"`
	Serve       Serve        `yaml:"serve"`
}

// TokenMirror configures the optional S3 mirror of the token cache.
type TokenMirror struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// Serve configures the metrics/MQTT daemon.
type Serve struct {
	Listen          string `yaml:"listen"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
}

// DefaultPath is ~/.config/kumoctl/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "kumoctl", "config.yaml")
}

// Load reads the file at path (a missing file is fine) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	var cfg Config

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// No config file; env alone is a complete configuration.
	default:
		return Config{}, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KUMO_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("KUMO_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("KUMO_SITE_ID"); v != "" {
		cfg.SiteID = v
	}
	if v := os.Getenv("KUMO_TOKEN_FILE"); v != "" {
		cfg.TokenFile = v
	}
	if v := os.Getenv("KUMO_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("KUMO_SOCKET_URL"); v != "" {
		cfg.SocketURL = v
	}

	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, serialEnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, serialEnvPrefix))
		if name == "" {
			continue
		}
		if cfg.Serials == nil {
			cfg.Serials = make(map[string]string)
		}
		cfg.Serials[name] = value
	}
}

// ReadSecretFile returns the trimmed contents of a credentials file.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
