package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LaTars4444/laeoutreach/internal/accounts"
	"github.com/LaTars4444/laeoutreach/internal/api"
	"github.com/LaTars4444/laeoutreach/internal/gate"
	"github.com/LaTars4444/laeoutreach/internal/logging"
	"github.com/LaTars4444/laeoutreach/internal/metrics"
	"github.com/LaTars4444/laeoutreach/internal/policyconfig"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

var serverShutdownTimeout = 30 * time.Second

func newServeCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve entitlement decisions over HTTP",
		Long: `Serve the entitlement API and Prometheus metrics. When a policy file is
configured it is watched and reloaded on change or on SIGHUP; a file that
fails to load never replaces the table being served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), global)
		},
	}
}

func runServer(parent context.Context, global *globalOptions) error {
	cfg, err := global.loadConfig("entitlements")
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting entitlement server")

	m := metrics.GetEntitlementMetrics()
	initial, err := loadPolicy(cfg)
	if err != nil {
		return err
	}
	store := entitlements.NewPolicyStore(initial)
	m.SetPolicy(initial, time.Now())

	var watcher *policyconfig.Watcher
	if cfg.PolicyPath != "" {
		watcher, err = policyconfig.NewWatcher(cfg.PolicyPath, store, policyconfig.WatcherOptions{
			PollInterval: cfg.PolicyPollInterval,
			Recorder:     m,
		})
		if err != nil {
			return fmt.Errorf("create policy watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("start policy watcher: %w", err)
		}
		defer watcher.Stop()
	}

	source, err := accounts.OpenSQLite(cfg.AccountsDBPath)
	if err != nil {
		return err
	}
	defer source.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	metricsErr, err := startMetricsServer(ctx, cfg.MetricsAddr, newMetricsHandler(prometheus.DefaultGatherer, store))
	if err != nil {
		return err
	}

	g := gate.New(entitlements.NewEvaluator(store), entitlements.SystemClock{}, m)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(g, source, Version),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("policy_version", store.Current().Version()).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	defer signal.Stop(reloadChan)

	var runErr error
loop:
	for {
		select {
		case <-reloadChan:
			if watcher == nil {
				log.Info().Msg("Received SIGHUP; no policy file configured, nothing to reload")
				continue
			}
			log.Info().Msg("Received SIGHUP, reloading policy table...")
			if err := watcher.Reload(); err != nil {
				log.Error().Err(err).Msg("Policy reload after SIGHUP failed")
			}

		case err, ok := <-metricsErr:
			if !ok {
				metricsErr = nil
				continue
			}
			runErr = err
			break loop

		case err, ok := <-serveErr:
			if ok && err != nil {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			break loop

		case <-sigChan:
			log.Info().Msg("Shutting down server...")
			break loop

		case <-ctx.Done():
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
	return runErr
}
