package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

func TestRecordDecision(t *testing.T) {
	m := NewEntitlementMetrics(prometheus.NewRegistry())

	m.RecordDecision(entitlements.Decision{Capability: entitlements.CapabilityAIAssist, Reason: entitlements.ReasonWithinTrial, Allowed: true}, true)
	m.RecordDecision(entitlements.Decision{Capability: entitlements.CapabilityAIAssist, Reason: entitlements.ReasonWithinTrial, Allowed: true}, true)
	m.RecordDecision(entitlements.Decision{Reason: entitlements.ReasonNoGrant}, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("ai-assist", "within_trial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("unregistered", "no_grant")))
}

func TestRecordDecision_UnregisteredCapabilitiesShareOneSeries(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewEntitlementMetrics(registry)

	for i := 0; i < 200; i++ {
		m.RecordDecision(entitlements.Decision{
			Capability: entitlements.Capability(fmt.Sprintf("junk-%d", i)),
			Reason:     entitlements.ReasonNoGrant,
		}, false)
	}

	count, err := testutil.GatherAndCount(registry, "laeoutreach_entitlements_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 200.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("unregistered", "no_grant")))
}

func TestRecordReload(t *testing.T) {
	m := NewEntitlementMetrics(prometheus.NewRegistry())
	table := entitlements.DefaultPolicyTable()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	m.RecordReload(ReloadFailure, nil, at)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloadsTotal.WithLabelValues("failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.policyEntries))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastReload))

	m.RecordReload(ReloadSuccess, table, at)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloadsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.policyEntries))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastReload))
}

func TestNewEntitlementMetricsReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := NewEntitlementMetrics(registry)
	second := NewEntitlementMetrics(registry)

	require.Same(t, first.decisionsTotal, second.decisionsTotal)
	require.Same(t, first.reloadsTotal, second.reloadsTotal)
	assert.Equal(t, first.policyEntries, second.policyEntries)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *EntitlementMetrics
	assert.NotPanics(t, func() {
		m.RecordDecision(entitlements.Decision{}, false)
		m.RecordReload(ReloadSuccess, nil, time.Now())
		m.SetPolicy(nil, time.Now())
	})
}

func TestGetEntitlementMetricsSingleton(t *testing.T) {
	registry := prometheus.NewRegistry()
	original := entitlementMetricsFactory
	entitlementMetricsFactory = func() *EntitlementMetrics { return NewEntitlementMetrics(registry) }
	entitlementMetricsInstance = nil
	entitlementMetricsOnce = sync.Once{}
	t.Cleanup(func() {
		entitlementMetricsFactory = original
		entitlementMetricsInstance = nil
		entitlementMetricsOnce = sync.Once{}
	})

	assert.Same(t, GetEntitlementMetrics(), GetEntitlementMetrics())
}
