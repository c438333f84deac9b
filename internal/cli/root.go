package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokenledger/quota-proxy/internal/config"
	"github.com/tokenledger/quota-proxy/pkg/alerts"
	"github.com/tokenledger/quota-proxy/pkg/history"
	"github.com/tokenledger/quota-proxy/pkg/ledger"
	"github.com/tokenledger/quota-proxy/pkg/storage"
	"github.com/tokenledger/quota-proxy/pkg/tier"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quotaproxy",
	Short: "quotaproxy - LLM completion proxy with per-tier daily token quotas",
	Long: `quotaproxy sits in front of the OpenAI completion API, classifies each
request's model into a quota tier (premium or mini), enforces a per-tier daily
token budget, records request history, and reconciles streaming usage gaps
against the provider's usage report.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.quotaproxy/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// loadTierDefinitions resolves tier prefixes and limits from the tiers file
// when configured, otherwise the built-in prefixes with configured limits.
func loadTierDefinitions(cfg *config.Config) (*tier.Definitions, error) {
	if cfg.Tiers.File != "" {
		return tier.LoadDefinitions(cfg.Tiers.File)
	}

	defs := tier.DefaultDefinitions()
	defs.Premium.DailyTokenLimit = cfg.Tiers.PremiumDailyLimit
	defs.Mini.DailyTokenLimit = cfg.Tiers.MiniDailyLimit
	return defs, nil
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

// app bundles the wired core components every command needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Store
	ledger     *ledger.Ledger
	classifier *tier.Classifier
	history    *history.Log
}

// initApp opens the store and initializes the ledger and classifier.
// The caller owns Close.
func initApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	defs, err := loadTierDefinitions(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	l := ledger.New(store, defs.Limits(), logger)
	if err := l.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		ledger:     l,
		classifier: tier.NewClassifier(defs, logger),
		history:    history.NewLog(store),
	}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}
