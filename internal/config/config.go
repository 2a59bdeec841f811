// Package config loads calbridge configuration from a yaml file and
// CALBRIDGE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string `mapstructure:"database_path"`

	// CredentialsFile is the OAuth client secrets JSON downloaded from
	// the provider console.
	CredentialsFile string `mapstructure:"credentials_file"`

	// CalendarName is the dedicated sync calendar's display name.
	CalendarName string `mapstructure:"calendar_name"`

	// WebhookBaseURL is the externally reachable base URL; the Google
	// notification path is appended when opening channels. Webhooks
	// are disabled when empty.
	WebhookBaseURL string `mapstructure:"webhook_base_url"`

	// ListenPort is the webhook HTTP server port.
	ListenPort int `mapstructure:"listen_port"`

	// PullInterval is the periodic full-pull cadence.
	PullInterval time.Duration `mapstructure:"pull_interval"`

	// ChannelRefreshInterval is the webhook channel renewal cadence.
	ChannelRefreshInterval time.Duration `mapstructure:"channel_refresh_interval"`

	// LogFile, when set, routes the serve log through a rotating file.
	LogFile string `mapstructure:"log_file"`
}

// WebhookURL returns the full notification endpoint, or "" when
// webhooks are disabled.
func (c *Config) WebhookURL() string {
	if c.WebhookBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.WebhookBaseURL, "/") + "/webhook/google"
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "calbridge"), nil
}

// Load reads configuration from path (a yaml file), or from the
// default directory when path is empty. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	v := viper.New()

	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}

	v.SetDefault("database_path", filepath.Join(dir, "calbridge.db"))
	v.SetDefault("credentials_file", filepath.Join(dir, "credentials.json"))
	v.SetDefault("calendar_name", "Calbridge Tasks")
	v.SetDefault("webhook_base_url", "")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("pull_interval", time.Hour)
	v.SetDefault("channel_refresh_interval", 6*time.Hour)
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("CALBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
