package entitlements

import "time"

// Evaluator resolves decisions against whatever table its PolicySource holds.
// It keeps no other state.
type Evaluator struct {
	policies PolicySource
}

// NewEvaluator creates an evaluator reading policy from source.
func NewEvaluator(source PolicySource) *Evaluator {
	return &Evaluator{policies: source}
}

// Policy returns the table a call made now would use.
func (e *Evaluator) Policy() *PolicyTable {
	if e == nil || e.policies == nil {
		return nil
	}
	return e.policies.Current()
}

// Evaluate decides whether account may use capability at now, using one
// policy snapshot.
func (e *Evaluator) Evaluate(account *AccountSnapshot, capability Capability, now time.Time) Decision {
	return Evaluate(e.Policy(), account, capability, now)
}

// EvaluateAll returns a decision for every capability registered in the
// current table. All decisions share one policy snapshot.
func (e *Evaluator) EvaluateAll(account *AccountSnapshot, now time.Time) map[Capability]Decision {
	table := e.Policy()
	decisions := make(map[Capability]Decision, table.Len())
	for _, capability := range table.Capabilities() {
		decisions[capability] = Evaluate(table, account, capability, now)
	}
	return decisions
}

// Evaluate applies the precedence chain lifetime > active subscription >
// trial > deny. The first matching rule wins. Every input, including a nil
// account or table, yields a Decision.
func Evaluate(table *PolicyTable, account *AccountSnapshot, capability Capability, now time.Time) Decision {
	if account == nil {
		return deny(capability, ReasonNoAccount)
	}

	switch account.Tier.Effective() {
	case TierLifetime:
		return allow(capability, ReasonLifetimeGrant, nil)
	case TierTimedSubscription:
		if account.HasActiveSubscription(now) {
			return allow(capability, ReasonActiveSubscription, cloneTimePtr(account.SubscriptionExpiresAt))
		}
	}

	// Unregistered capabilities have no trial.
	if entry, ok := table.Lookup(capability); ok && entry.TrialOpen(account.CreatedAt, now) {
		deadline := entry.TrialDeadline(account.CreatedAt)
		return allow(capability, ReasonWithinTrial, &deadline)
	}

	return deny(capability, ReasonNoGrant)
}
