package entitlements

import "strings"

// Capability identifies a gateable action. It is resolved against a PolicyTable.
type Capability string

// Capabilities shipped with the default policy table.
const (
	CapabilityMessagingOutreach Capability = "messaging-outreach" // Outbound email campaigns
	CapabilityAIAssist          Capability = "ai-assist"          // AI-composed outreach and lead analysis
)

// LegacyAliases maps capability names used by older clients to canonical names.
var LegacyAliases = map[string]Capability{
	"email": CapabilityMessagingOutreach,
	"ai":    CapabilityAIAssist,
}

// ParseCapability normalizes caller input and resolves legacy aliases.
// Resolution belongs at input boundaries; Evaluate only matches exact names.
func ParseCapability(raw string) Capability {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := LegacyAliases[normalized]; ok {
		return canonical
	}
	return Capability(normalized)
}

func (c Capability) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for a capability.
func (c Capability) DisplayName() string {
	switch c {
	case CapabilityMessagingOutreach:
		return "Email Outreach Campaigns"
	case CapabilityAIAssist:
		return "AI Assistant"
	default:
		return string(c)
	}
}
