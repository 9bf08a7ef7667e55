package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/LaTars4444/laeoutreach/internal/errors"
	"github.com/LaTars4444/laeoutreach/internal/gate"
	"github.com/LaTars4444/laeoutreach/internal/metrics"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

var (
	created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now     = created.Add(30 * time.Hour)
)

type mapSource map[string]*entitlements.AccountSnapshot

func (m mapSource) GetAccount(_ context.Context, id string) (*entitlements.AccountSnapshot, error) {
	if id == "broken" {
		return nil, errors.New("database is locked")
	}
	account, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", id, ierrors.ErrAccountNotFound)
	}
	return account, nil
}

func testSource() mapSource {
	expires := now.Add(2 * time.Hour)
	return mapSource{
		"1": {ID: "1", Tier: entitlements.TierFree, CreatedAt: created},
		"2": {ID: "2", Tier: entitlements.TierTimedSubscription, SubscriptionExpiresAt: &expires, CreatedAt: created},
		"3": {ID: "3", Tier: entitlements.TierLifetime, CreatedAt: created},
	}
}

func testGate() *gate.Gate {
	store := entitlements.NewPolicyStore(entitlements.DefaultPolicyTable())
	return gate.New(entitlements.NewEvaluator(store), entitlements.FixedClock(now), nil)
}

func serve(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleEntitlements_FreeAccountInTrial(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "test")

	rec := serve(t, router, "/api/accounts/1/entitlements")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var payload EntitlementPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "1", payload.AccountID)
	assert.Equal(t, "trial", payload.LifecycleStage)
	assert.True(t, payload.ShowUpgradePrompt)
	assert.Equal(t, []string{"ai-assist"}, payload.Granted)
	require.Len(t, payload.Capabilities, 2)

	ai := payload.Capabilities[0]
	assert.Equal(t, "ai-assist", ai.Capability)
	assert.Equal(t, "within_trial", ai.Reason)
	require.NotNil(t, ai.RemainingSeconds)
	assert.Equal(t, int64(18*3600), *ai.RemainingSeconds)

	outreach := payload.Capabilities[1]
	assert.False(t, outreach.Allowed)
	assert.Equal(t, "no_grant", outreach.Reason)

	require.Len(t, payload.Upgrades, 1)
	assert.Equal(t, entitlements.CapabilityMessagingOutreach, payload.Upgrades[0].Capability)
}

func TestHandleEntitlements_HistoricalAt(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "test")

	rec := serve(t, router, "/api/accounts/1/entitlements?at=2024-01-01T12:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload EntitlementPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, []string{"ai-assist", "messaging-outreach"}, payload.Granted)
	assert.Empty(t, payload.Upgrades)
}

func TestHandleEntitlements_Errors(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "test")

	tests := []struct {
		target string
		status int
		code   string
	}{
		{"/api/accounts/404/entitlements", http.StatusNotFound, "account_not_found"},
		{"/api/accounts/broken/entitlements", http.StatusInternalServerError, "internal_error"},
		{"/api/accounts/1/entitlements?at=yesterday", http.StatusBadRequest, "invalid_time"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(t, router, tt.target)
			require.Equal(t, tt.status, rec.Code)

			var apiErr APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, rec.Header().Get("X-Request-ID"), apiErr.RequestID)
		})
	}
}

func TestHandleCapability(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "test")

	tests := []struct {
		target  string
		allowed bool
		reason  string
	}{
		{"/api/accounts/2/entitlements/messaging-outreach", true, "active_subscription"},
		{"/api/accounts/3/entitlements/ai", true, "lifetime_grant"},
		{"/api/accounts/1/entitlements/email", false, "no_grant"},
		{"/api/accounts/1/entitlements/lead-export", false, "no_grant"},
		{"/api/accounts/404/entitlements/ai-assist", false, "no_account"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(t, router, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)

			var status CapabilityStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.allowed, status.Allowed)
			assert.Equal(t, tt.reason, status.Reason)
		})
	}
}

func TestHandleCapability_AliasResolvedToCanonicalName(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "test")

	rec := serve(t, router, "/api/accounts/1/entitlements/AI")
	require.Equal(t, http.StatusOK, rec.Code)

	var status CapabilityStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ai-assist", status.Capability)
	assert.Equal(t, "AI Assistant", status.DisplayName)
}

func TestHandlePolicy(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "test")

	rec := serve(t, router, "/api/policy")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"version": "builtin",
		"capabilities": [
			{"capability": "ai-assist", "trial_duration": "48h0m0s"},
			{"capability": "messaging-outreach", "trial_duration": "24h0m0s"}
		]
	}`, rec.Body.String())
}

func TestHealthAndVersion(t *testing.T) {
	router := NewRouter(testGate(), testSource(), "1.2.3")

	assert.JSONEq(t, `{"status":"ok"}`, serve(t, router, "/api/health").Body.String())
	assert.JSONEq(t, `{"version":"1.2.3"}`, serve(t, router, "/api/version").Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequireCapability(t *testing.T) {
	g := testGate()
	source := testSource()
	reached := false
	next := func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}
	accountFromHeader := func(r *http.Request) string { return r.Header.Get("X-Account-ID") }
	handler := RequireCapability(g, source, entitlements.CapabilityMessagingOutreach, accountFromHeader, next)

	tests := []struct {
		name    string
		account string
		status  int
		reason  string
	}{
		{name: "subscriber passes", account: "2", status: http.StatusNoContent},
		{name: "expired trial is blocked", account: "1", status: http.StatusPaymentRequired, reason: "no_grant"},
		{name: "unknown account is blocked", account: "404", status: http.StatusPaymentRequired, reason: "no_account"},
		{name: "anonymous is blocked", account: "", status: http.StatusPaymentRequired, reason: "no_account"},
		{name: "lookup failure", account: "broken", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodPost, "/api/campaigns", nil)
			req.Header.Set("X-Account-ID", tt.account)
			rec := httptest.NewRecorder()
			handler(rec, req)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status == http.StatusNoContent, reached)
			if tt.status != http.StatusPaymentRequired {
				return
			}

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "capability_required", body["error"])
			assert.Equal(t, "messaging-outreach", body["capability"])
			assert.Equal(t, tt.reason, body["reason"])
			assert.Contains(t, body["upgrade_url"], "capability=messaging-outreach")
		})
	}
}

func TestWithRequestContext_RecoversPanics(t *testing.T) {
	handler := withRequestContext(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, APIError{Code: "internal_error", Message: "An unexpected error occurred", Status: http.StatusInternalServerError, RequestID: "req-123"}, apiErr)
}

func TestWithRequestContext_PanicAfterHeaderKeepsStatus(t *testing.T) {
	handler := withRequestContext(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleCapability_UnknownNamesDoNotGrowDecisionSeries(t *testing.T) {
	registry := prometheus.NewRegistry()
	store := entitlements.NewPolicyStore(entitlements.DefaultPolicyTable())
	g := gate.New(entitlements.NewEvaluator(store), entitlements.FixedClock(now), metrics.NewEntitlementMetrics(registry))
	router := NewRouter(g, testSource(), "test")

	require.Equal(t, http.StatusOK, serve(t, router, "/api/accounts/1/entitlements/ai-assist").Code)
	for i := 0; i < 100; i++ {
		rec := serve(t, router, fmt.Sprintf("/api/accounts/1/entitlements/junk-%d", i))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	count, err := testutil.GatherAndCount(registry, "laeoutreach_entitlements_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
