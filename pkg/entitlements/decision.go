package entitlements

import "time"

// Reason explains why a Decision was reached. The set is closed.
type Reason string

const (
	ReasonLifetimeGrant      Reason = "lifetime_grant"
	ReasonActiveSubscription Reason = "active_subscription"
	ReasonWithinTrial        Reason = "within_trial"
	ReasonNoGrant            Reason = "no_grant"
	ReasonNoAccount          Reason = "no_account"
)

// AllReasons lists every Reason in precedence order.
var AllReasons = []Reason{
	ReasonLifetimeGrant,
	ReasonActiveSubscription,
	ReasonWithinTrial,
	ReasonNoGrant,
	ReasonNoAccount,
}

// Granting reports whether the reason corresponds to an allowed decision.
func (r Reason) Granting() bool {
	switch r {
	case ReasonLifetimeGrant, ReasonActiveSubscription, ReasonWithinTrial:
		return true
	default:
		return false
	}
}

// Decision is the evaluator's verdict for one capability.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Reason     Reason     `json:"reason"`
	Capability Capability `json:"capability"`

	// GrantEndsAt is when the granting window closes: the subscription expiry
	// or the trial deadline. Nil for lifetime grants and denials.
	GrantEndsAt *time.Time `json:"grant_ends_at,omitempty"`
}

// Remaining returns how long the grant still holds at now. Zero for denials
// and already-closed windows; lifetime grants report zero as well since they
// have no end.
func (d Decision) Remaining(now time.Time) time.Duration {
	if !d.Allowed || d.GrantEndsAt == nil {
		return 0
	}
	if remaining := d.GrantEndsAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

func allow(capability Capability, reason Reason, endsAt *time.Time) Decision {
	return Decision{Allowed: true, Reason: reason, Capability: capability, GrantEndsAt: endsAt}
}

func deny(capability Capability, reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason, Capability: capability}
}
