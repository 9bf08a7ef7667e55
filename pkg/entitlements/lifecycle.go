package entitlements

import "time"

// LifecycleStage is a caller-side summary of where an account sits in the
// free -> trial -> subscribed/lifetime -> expired lifecycle. Evaluate does not
// use it.
type LifecycleStage string

const (
	StageLifetime   LifecycleStage = "lifetime"
	StageSubscribed LifecycleStage = "subscribed"
	StageTrial      LifecycleStage = "trial"
	StageExpired    LifecycleStage = "expired" // Timed subscription lapsed, no trial open
	StageFree       LifecycleStage = "free"
	StageUnknown    LifecycleStage = "unknown" // No account
)

// StageBehavior describes how a caller should present a lifecycle stage.
type StageBehavior struct {
	Stage LifecycleStage

	// PaidAccess indicates whether every capability is currently reachable.
	PaidAccess bool

	// ShowUpgradePrompt indicates whether the UI should nudge towards a purchase.
	ShowUpgradePrompt bool

	Description string
}

// StageBehaviors maps each stage to its presentation rules.
var StageBehaviors = map[LifecycleStage]StageBehavior{
	StageLifetime: {
		Stage:             StageLifetime,
		PaidAccess:        true,
		ShowUpgradePrompt: false,
		Description:       "Permanent unlock; no expiry.",
	},
	StageSubscribed: {
		Stage:             StageSubscribed,
		PaidAccess:        true,
		ShowUpgradePrompt: false,
		Description:       "Timed subscription active until its expiry.",
	},
	StageTrial: {
		Stage:             StageTrial,
		PaidAccess:        false,
		ShowUpgradePrompt: true,
		Description:       "At least one capability trial is still open.",
	},
	StageExpired: {
		Stage:             StageExpired,
		PaidAccess:        false,
		ShowUpgradePrompt: true,
		Description:       "Subscription lapsed; renew to restore access.",
	},
	StageFree: {
		Stage:             StageFree,
		PaidAccess:        false,
		ShowUpgradePrompt: true,
		Description:       "No paid tier and no open trial.",
	},
	StageUnknown: {
		Stage:             StageUnknown,
		PaidAccess:        false,
		ShowUpgradePrompt: false,
		Description:       "No account resolved for this session.",
	},
}

// GetStageBehavior returns the behavior for stage, defaulting to free.
func GetStageBehavior(stage LifecycleStage) StageBehavior {
	if b, ok := StageBehaviors[stage]; ok {
		return b
	}
	return StageBehaviors[StageFree]
}

// Lifecycle classifies account at now against table.
func Lifecycle(table *PolicyTable, account *AccountSnapshot, now time.Time) LifecycleStage {
	if account == nil {
		return StageUnknown
	}
	switch account.Tier.Effective() {
	case TierLifetime:
		return StageLifetime
	case TierTimedSubscription:
		if account.HasActiveSubscription(now) {
			return StageSubscribed
		}
	}

	for _, entry := range table.Entries() {
		if entry.TrialOpen(account.CreatedAt, now) {
			return StageTrial
		}
	}

	if account.Tier.Effective() == TierTimedSubscription && account.SubscriptionExpiresAt != nil {
		return StageExpired
	}
	return StageFree
}
