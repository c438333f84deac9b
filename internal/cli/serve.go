package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokenledger/quota-proxy/internal/proxy"
	"github.com/tokenledger/quota-proxy/internal/server"
	"github.com/tokenledger/quota-proxy/pkg/quota"
	"github.com/tokenledger/quota-proxy/pkg/reconcile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota-enforcing completion proxy",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		a.cfg.Proxy.Listen = listen
	}

	var watcher *quota.ThresholdWatcher
	if notifiers := initNotifiers(a.cfg); len(notifiers) > 0 {
		watcher = quota.NewThresholdWatcher(notifiers, a.logger)
	}

	controller := quota.NewController(a.ledger, a.classifier, a.logger)
	accountant := quota.NewAccountant(a.ledger, a.history, watcher, a.logger)

	proxyHandler, err := proxy.NewHandler(
		controller,
		accountant,
		a.cfg.Upstream.BaseURL,
		a.cfg.Upstream.APIKey,
		a.cfg.Proxy.MaxBodySize,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("create proxy handler: %w", err)
	}

	// Reconciliation needs the admin-scoped key; without it the
	// endpoint reports itself unavailable.
	var reconciler server.Reconciler
	if a.cfg.Upstream.AdminAPIKey != "" {
		fetcher := reconcile.NewOpenAIUsageClient(a.cfg.Upstream.BaseURL, a.cfg.Upstream.AdminAPIKey)
		reconciler = reconcile.New(a.ledger, a.classifier, fetcher, a.logger)
	} else {
		a.logger.Warn("admin API key not configured, reconciliation disabled")
	}

	apiServer := server.NewServer(a.ledger, a.history, reconciler, a.logger)

	mux := http.NewServeMux()
	mux.Handle("/healthz", apiServer.Handler())
	mux.Handle("/api/", apiServer.Handler())
	mux.Handle("/", proxyHandler)

	readTimeout, _ := time.ParseDuration(a.cfg.Proxy.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 60 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(a.cfg.Proxy.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 300 * time.Second
	}

	srv := &http.Server{
		Addr:         a.cfg.Proxy.Listen,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("proxy started",
			"listen", a.cfg.Proxy.Listen,
			"upstream", a.cfg.Upstream.BaseURL,
		)
		fmt.Fprintf(os.Stderr, "quotaproxy listening on %s\n", a.cfg.Proxy.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	a.logger.Info("proxy stopped")
	return nil
}
