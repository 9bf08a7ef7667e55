package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaTars4444/laeoutreach/internal/metrics"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewEntitlementMetrics(registry)
	table := entitlements.DefaultPolicyTable()
	m.SetPolicy(table, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	handler := newMetricsHandler(registry, entitlements.NewPolicyStore(table))

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "laeoutreach_entitlements_policy_entries 2")
	})

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var health metricsHealth
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, metricsHealth{Status: "ok", PolicyVersion: entitlements.DefaultPolicyVersion, PolicyEntries: 2}, health)
	})
}

func TestStartMetricsServer_ReturnsBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	errs, err := startMetricsServer(context.Background(), taken.Addr().String(), http.NotFoundHandler())
	require.Error(t, err)
	assert.Nil(t, errs)
}

func TestStartMetricsServer_ServesUntilCancelled(t *testing.T) {
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := reserved.Addr().String()
	require.NoError(t, reserved.Close())

	ctx, cancel := context.WithCancel(context.Background())
	handler := newMetricsHandler(prometheus.NewRegistry(), entitlements.DefaultPolicyTable())
	errs, err := startMetricsServer(ctx, addr, handler)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	cancel()
	select {
	case err, ok := <-errs:
		assert.False(t, ok, "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop after cancel")
	}
}
