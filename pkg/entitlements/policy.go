package entitlements

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidPolicyEntry is returned when a policy table cannot be built.
var ErrInvalidPolicyEntry = errors.New("invalid policy entry")

// DefaultPolicyVersion labels the built-in policy table.
const DefaultPolicyVersion = "builtin"

// PolicyEntry describes how a single capability may be reached without a paid tier.
type PolicyEntry struct {
	Capability Capability `json:"capability"`

	// TrialDuration is measured from AccountSnapshot.CreatedAt. Zero or
	// negative values are legal and never open a window.
	TrialDuration time.Duration `json:"trial_duration"`

	// TierGatedOnly marks a capability that is registered but has no trial.
	TierGatedOnly bool `json:"tier_gated_only,omitempty"`
}

// TrialDeadline returns the first instant at which the trial no longer applies.
func (p PolicyEntry) TrialDeadline(createdAt time.Time) time.Time {
	return createdAt.Add(p.TrialDuration)
}

// TrialOpen reports whether the trial window covers now. The window is
// half-open: now == deadline is outside.
func (p PolicyEntry) TrialOpen(createdAt, now time.Time) bool {
	if p.TierGatedOnly {
		return false
	}
	return now.Before(p.TrialDeadline(createdAt))
}

// PolicyTable is an immutable capability -> PolicyEntry mapping.
// Build a new table to change policy; never edit one in place.
type PolicyTable struct {
	version string
	entries map[Capability]PolicyEntry
}

// NewPolicyTable validates entries and returns an immutable table.
func NewPolicyTable(version string, entries ...PolicyEntry) (*PolicyTable, error) {
	table := &PolicyTable{
		version: strings.TrimSpace(version),
		entries: make(map[Capability]PolicyEntry, len(entries)),
	}
	for i, entry := range entries {
		name := Capability(strings.TrimSpace(string(entry.Capability)))
		if name == "" {
			return nil, fmt.Errorf("%w: entry %d is missing a capability name", ErrInvalidPolicyEntry, i)
		}
		if _, exists := table.entries[name]; exists {
			return nil, fmt.Errorf("%w: duplicate capability %q", ErrInvalidPolicyEntry, name)
		}
		entry.Capability = name
		table.entries[name] = entry
	}
	return table, nil
}

// DefaultPolicyTable returns the policy the system ships with.
func DefaultPolicyTable() *PolicyTable {
	table, err := NewPolicyTable(DefaultPolicyVersion,
		PolicyEntry{Capability: CapabilityMessagingOutreach, TrialDuration: 24 * time.Hour},
		PolicyEntry{Capability: CapabilityAIAssist, TrialDuration: 48 * time.Hour},
	)
	if err != nil {
		panic(err)
	}
	return table
}

// Lookup returns the entry for a capability. A nil table has no entries.
func (t *PolicyTable) Lookup(capability Capability) (PolicyEntry, bool) {
	if t == nil {
		return PolicyEntry{}, false
	}
	entry, ok := t.entries[capability]
	return entry, ok
}

// TrialDeadline returns the trial deadline for capability given an account
// creation time, and false when the capability has no trial.
func (t *PolicyTable) TrialDeadline(capability Capability, createdAt time.Time) (time.Time, bool) {
	entry, ok := t.Lookup(capability)
	if !ok || entry.TierGatedOnly {
		return time.Time{}, false
	}
	return entry.TrialDeadline(createdAt), true
}

// Version returns the label the table was built with.
func (t *PolicyTable) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}

// Len returns the number of registered capabilities.
func (t *PolicyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Capabilities returns the registered capability names in sorted order.
func (t *PolicyTable) Capabilities() []Capability {
	if t == nil {
		return nil
	}
	caps := make([]Capability, 0, len(t.entries))
	for capability := range t.entries {
		caps = append(caps, capability)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Entries returns a sorted copy of the table's entries.
func (t *PolicyTable) Entries() []PolicyEntry {
	caps := t.Capabilities()
	entries := make([]PolicyEntry, 0, len(caps))
	for _, capability := range caps {
		entries = append(entries, t.entries[capability])
	}
	return entries
}

// Current lets a static table act as its own PolicySource.
func (t *PolicyTable) Current() *PolicyTable {
	return t
}
