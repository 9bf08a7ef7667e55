// Package entitlements decides whether an account may use a capability right now.
//
// The evaluator is a pure function of an account snapshot, a capability and a
// caller-supplied time. It performs no I/O, reads no clock and keeps no state
// between calls, so it is safe to share across goroutines and to replay with
// historical timestamps.
package entitlements

import "strings"

// Tier represents an account's subscription class.
type Tier string

const (
	TierFree              Tier = "free"
	TierTimedSubscription Tier = "timed-subscription"
	TierLifetime          Tier = "lifetime"
)

// legacyTierNames maps stored subscription_status values to tiers.
var legacyTierNames = map[string]Tier{
	"":                   TierFree,
	"free":               TierFree,
	"weekly":             TierTimedSubscription,
	"monthly":            TierTimedSubscription,
	"subscription":       TierTimedSubscription,
	"timed-subscription": TierTimedSubscription,
	"timed_subscription": TierTimedSubscription,
	"lifetime":           TierLifetime,
}

// ParseTier normalizes a stored tier value. Unrecognized values are returned
// as-is (lowercased) so they stay visible in reports; Effective treats them as
// free.
func ParseTier(raw string) Tier {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if tier, ok := legacyTierNames[normalized]; ok {
		return tier
	}
	return Tier(normalized)
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierTimedSubscription, TierLifetime:
		return true
	default:
		return false
	}
}

// Effective returns the tier used for evaluation. Unknown or corrupt values
// fail closed to TierFree.
func (t Tier) Effective() Tier {
	if t.Valid() {
		return t
	}
	return TierFree
}

// DisplayName returns a human-readable name for the tier.
func (t Tier) DisplayName() string {
	switch t {
	case TierFree:
		return "Free"
	case TierTimedSubscription:
		return "Subscription"
	case TierLifetime:
		return "Lifetime"
	default:
		return "Unknown"
	}
}
