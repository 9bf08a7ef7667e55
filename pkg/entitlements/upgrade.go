package entitlements

import (
	"net/url"
	"sort"
)

// DefaultUpgradeURL is used when no capability-specific URL mapping exists.
const DefaultUpgradeURL = "https://laeoutreach.com/pricing?utm_source=app&utm_medium=paywall&utm_campaign=upgrade"

// UpgradeURLForCapability returns the upgrade URL for a capability.
func UpgradeURLForCapability(capability Capability) string {
	if capability == "" {
		return DefaultUpgradeURL
	}
	return DefaultUpgradeURL + "&capability=" + url.QueryEscape(string(capability))
}

// UpgradePrompt is an actionable nudge tied to a denied capability.
type UpgradePrompt struct {
	Capability Capability `json:"capability"`
	Reason     string     `json:"reason"`
	ActionURL  string     `json:"action_url"`
	Priority   int        `json:"priority"`
}

// upgradeCopy holds user-facing text per capability. Capabilities without an
// entry get a generic message.
var upgradeCopy = map[Capability]struct {
	text     string
	priority int
}{
	CapabilityMessagingOutreach: {
		text:     "Your free outreach window has ended. Subscribe to keep sending campaigns to your leads.",
		priority: 1,
	},
	CapabilityAIAssist: {
		text:     "Your AI assistant trial has ended. Subscribe to keep generating offers and follow-ups.",
		priority: 2,
	},
}

const genericUpgradePriority = 100

// UpgradePromptFor returns a prompt for a denied decision. Allowed decisions and
// decisions without an account produce no prompt.
func UpgradePromptFor(decision Decision) (UpgradePrompt, bool) {
	if decision.Allowed || decision.Reason != ReasonNoGrant {
		return UpgradePrompt{}, false
	}
	prompt := UpgradePrompt{
		Capability: decision.Capability,
		Reason:     "Subscribe to unlock " + decision.Capability.DisplayName() + ".",
		ActionURL:  UpgradeURLForCapability(decision.Capability),
		Priority:   genericUpgradePriority,
	}
	if c, ok := upgradeCopy[decision.Capability]; ok {
		prompt.Reason = c.text
		prompt.Priority = c.priority
	}
	return prompt, true
}

// GenerateUpgradePrompts returns prompts for every denied decision, ordered by
// priority then capability name.
func GenerateUpgradePrompts(decisions map[Capability]Decision) []UpgradePrompt {
	prompts := make([]UpgradePrompt, 0, len(decisions))
	for _, decision := range decisions {
		if prompt, ok := UpgradePromptFor(decision); ok {
			prompts = append(prompts, prompt)
		}
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		if prompts[i].Priority == prompts[j].Priority {
			return prompts[i].Capability < prompts[j].Capability
		}
		return prompts[i].Priority < prompts[j].Priority
	})
	return prompts
}
