package entitlements

import "time"

// AccountSnapshot is the read-only view of an account the evaluator works on.
// It is owned and mutated elsewhere; the evaluator never caches it.
type AccountSnapshot struct {
	ID string `json:"id,omitempty"`

	Tier Tier `json:"tier"`

	// SubscriptionExpiresAt is only consulted for TierTimedSubscription.
	// Nil means no active timed grant.
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`

	// CreatedAt anchors every trial window.
	CreatedAt time.Time `json:"created_at"`
}

// HasActiveSubscription reports whether a timed subscription covers now.
// Expiry equal to now is already expired.
func (a *AccountSnapshot) HasActiveSubscription(now time.Time) bool {
	if a == nil || a.Tier.Effective() != TierTimedSubscription {
		return false
	}
	return a.SubscriptionExpiresAt != nil && a.SubscriptionExpiresAt.After(now)
}

// Clone returns a deep copy of the snapshot.
func (a *AccountSnapshot) Clone() *AccountSnapshot {
	if a == nil {
		return nil
	}
	c := *a
	c.SubscriptionExpiresAt = cloneTimePtr(a.SubscriptionExpiresAt)
	return &c
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
