// Package metrics exposes Prometheus instrumentation for entitlement decisions
// and policy reloads.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// Reload outcomes recorded on policy_reloads_total.
const (
	ReloadSuccess = "success"
	ReloadFailure = "failure"
)

// UnregisteredCapabilityLabel replaces capability names that are not in the
// active policy table so the decisions_total series count stays bounded.
const UnregisteredCapabilityLabel = "unregistered"

// EntitlementMetrics manages Prometheus instrumentation for the entitlement
// engine.
type EntitlementMetrics struct {
	decisionsTotal *prometheus.CounterVec
	reloadsTotal   *prometheus.CounterVec
	policyEntries  prometheus.Gauge
	lastReload     prometheus.Gauge
}

var (
	entitlementMetricsInstance *EntitlementMetrics
	entitlementMetricsOnce     sync.Once
	entitlementMetricsFactory  = defaultEntitlementMetricsFactory
)

// GetEntitlementMetrics returns the singleton metrics instance registered on
// the default registerer.
func GetEntitlementMetrics() *EntitlementMetrics {
	entitlementMetricsOnce.Do(func() {
		entitlementMetricsInstance = entitlementMetricsFactory()
	})
	return entitlementMetricsInstance
}

func defaultEntitlementMetricsFactory() *EntitlementMetrics {
	return NewEntitlementMetrics(prometheus.DefaultRegisterer)
}

// NewEntitlementMetrics registers collectors on registerer, reusing any that
// are already registered.
func NewEntitlementMetrics(registerer prometheus.Registerer) *EntitlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &EntitlementMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "laeoutreach",
				Subsystem: "entitlements",
				Name:      "decisions_total",
				Help:      "Total entitlement decisions by capability and reason",
			},
			[]string{"capability", "reason"},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "laeoutreach",
				Subsystem: "entitlements",
				Name:      "policy_reloads_total",
				Help:      "Total policy table reload attempts by result",
			},
			[]string{"result"},
		),
		policyEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "laeoutreach",
				Subsystem: "entitlements",
				Name:      "policy_entries",
				Help:      "Number of capabilities in the active policy table",
			},
		),
		lastReload: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "laeoutreach",
				Subsystem: "entitlements",
				Name:      "policy_last_reload_timestamp_seconds",
				Help:      "Unix time of the last successful policy table reload",
			},
		),
	}

	m.decisionsTotal = registerCollector(registerer, m.decisionsTotal)
	m.reloadsTotal = registerCollector(registerer, m.reloadsTotal)
	m.policyEntries = registerCollector(registerer, m.policyEntries)
	m.lastReload = registerCollector(registerer, m.lastReload)

	return m
}

func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegisteredErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := alreadyRegisteredErr.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func defaultLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// RecordDecision counts one evaluated decision. registered reports whether the
// capability was in the policy table the decision was made against; anything
// else is counted under UnregisteredCapabilityLabel.
func (m *EntitlementMetrics) RecordDecision(decision entitlements.Decision, registered bool) {
	if m == nil || m.decisionsTotal == nil {
		return
	}
	capability := UnregisteredCapabilityLabel
	if registered && decision.Capability != "" {
		capability = string(decision.Capability)
	}
	m.decisionsTotal.WithLabelValues(capability, defaultLabel(string(decision.Reason))).Inc()
}

// RecordReload counts a reload attempt. On success table describes the newly
// active policy and the entry gauge and timestamp are updated.
func (m *EntitlementMetrics) RecordReload(result string, table *entitlements.PolicyTable, at time.Time) {
	if m == nil || m.reloadsTotal == nil {
		return
	}
	m.reloadsTotal.WithLabelValues(defaultLabel(result)).Inc()
	if result != ReloadSuccess {
		return
	}
	m.SetPolicy(table, at)
}

// SetPolicy publishes the size of the active table without counting a reload.
func (m *EntitlementMetrics) SetPolicy(table *entitlements.PolicyTable, at time.Time) {
	if m == nil || m.policyEntries == nil {
		return
	}
	m.policyEntries.Set(float64(table.Len()))
	m.lastReload.Set(float64(at.Unix()))
}
