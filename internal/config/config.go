package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all quota proxy configuration.
type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Tiers    TiersConfig    `mapstructure:"tiers"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// UpstreamConfig defines the forwarding target and credentials.
type UpstreamConfig struct {
	// BaseURL is the provider API root requests are forwarded to.
	BaseURL string `mapstructure:"base_url"`
	// APIKey, when set, replaces the client's Authorization header on
	// forwarded requests. When empty the client's own key passes through.
	APIKey string `mapstructure:"api_key"`
	// AdminAPIKey authenticates against the usage reporting endpoint for
	// reconciliation. It needs higher privileges than APIKey.
	AdminAPIKey string `mapstructure:"admin_api_key"`
}

// ProxyConfig defines the listening proxy settings.
type ProxyConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	MaxBodySize  int64  `mapstructure:"max_body_size"`
}

// TiersConfig defines quota tier settings. When File is set the tier
// prefixes and limits load from that YAML file; otherwise the built-in
// prefixes are used with the limits below.
type TiersConfig struct {
	File              string `mapstructure:"file"`
	PremiumDailyLimit int64  `mapstructure:"premium_daily_limit"`
	MiniDailyLimit    int64  `mapstructure:"mini_daily_limit"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".quotaproxy"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("upstream.base_url", "https://api.openai.com")
	v.SetDefault("proxy.listen", ":8085")
	v.SetDefault("proxy.read_timeout", "60s")
	v.SetDefault("proxy.write_timeout", "300s")
	v.SetDefault("proxy.max_body_size", 10*1024*1024) // 10 MB
	v.SetDefault("tiers.premium_daily_limit", 10_000_000)
	v.SetDefault("tiers.mini_daily_limit", 50_000_000)
	v.SetDefault("storage.path", filepath.Join(home, ".quotaproxy", "quota.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("alerts.slack.channel", "#llm-quota")

	// Environment variables
	v.SetEnvPrefix("QP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
