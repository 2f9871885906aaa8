package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/contribution-patrol/patrol/pkg/command"
	"gopkg.in/yaml.v3"
)

// Config holds server configuration. It is loaded from YAML over
// DefaultConfig and then overridden by CLI flags.
type Config struct {
	ListenAddr     string       `yaml:"listen_addr"`     // HTTP bind address for /webhook and /healthz
	MetricsAddr    string       `yaml:"metrics_addr"`    // HTTP bind address for /metrics (empty = disabled)
	DBPath         string       `yaml:"db_path"`         // SQLite database path
	Mention        string       `yaml:"mention"`         // trigger token, e.g. "@contribution-patrol"
	WebhookSecret  string       `yaml:"webhook_secret"`  // shared HMAC secret for deliveries
	WelcomeMessage string       `yaml:"welcome_message"` // comment posted on new issues (empty = disabled)
	GitHub         GitHubConfig `yaml:"github"`
	Log            LogConfig    `yaml:"log"`
}

// GitHubConfig selects how replies are posted. Exactly one of App
// credentials or a token must be set.
type GitHubConfig struct {
	APIURL         string `yaml:"api_url"`
	AppID          int64  `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	Token          string `yaml:"token"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":3000",
		MetricsAddr:    ":9603",
		DBPath:         "patrol.db",
		Mention:        command.DefaultMention,
		WelcomeMessage: "Thanks for opening this issue!",
		GitHub:         GitHubConfig{APIURL: "https://api.github.com"},
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// UsesApp reports whether replies are authenticated as a GitHub App.
func (c GitHubConfig) UsesApp() bool {
	return c.AppID != 0 || c.PrivateKeyPath != ""
}

// Validate checks what serve needs before any listener starts.
func (c Config) Validate() error {
	var errs []error
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("webhook_secret is required"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}

	gh := c.GitHub
	switch {
	case gh.UsesApp() && gh.Token != "":
		errs = append(errs, errors.New("github: app credentials and token are mutually exclusive"))
	case gh.UsesApp():
		if gh.AppID == 0 {
			errs = append(errs, errors.New("github: app_id is required with private_key_path"))
		}
		if gh.PrivateKeyPath == "" {
			errs = append(errs, errors.New("github: private_key_path is required with app_id"))
		}
	case gh.Token == "":
		errs = append(errs, errors.New("github: either app credentials or a token is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
