package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

var metricsShutdownTimeout = 5 * time.Second

type metricsHealth struct {
	Status        string `json:"status"`
	PolicyVersion string `json:"policy_version"`
	PolicyEntries int    `json:"policy_entries"`
}

// newMetricsHandler serves gatherer on /metrics and the active policy table's
// identity on /healthz.
func newMetricsHandler(gatherer prometheus.Gatherer, policies entitlements.PolicySource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		table := policies.Current()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metricsHealth{
			Status:        "ok",
			PolicyVersion: table.Version(),
			PolicyEntries: table.Len(),
		}); err != nil {
			log.Debug().Err(err).Msg("Failed to write metrics health response")
		}
	})
	return mux
}

// startMetricsServer binds addr before returning so a taken port fails the
// caller. Errors after a successful bind are delivered on the returned
// channel, which is closed once the server stops.
func startMetricsServer(ctx context.Context, addr string, handler http.Handler) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down metrics server cleanly")
		}
	}()

	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		log.Info().Str("addr", listener.Addr().String()).Msg("Metrics endpoint listening")
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return errs, nil
}
