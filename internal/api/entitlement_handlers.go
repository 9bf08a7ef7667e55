package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	ierrors "github.com/LaTars4444/laeoutreach/internal/errors"
	"github.com/LaTars4444/laeoutreach/internal/gate"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// CapabilityStatus is one capability decision as presented to clients.
type CapabilityStatus struct {
	Capability  string     `json:"capability"`
	DisplayName string     `json:"display_name"`
	Allowed     bool       `json:"allowed"`
	Reason      string     `json:"reason"`
	GrantEndsAt *time.Time `json:"grant_ends_at,omitempty"`

	// RemainingSeconds is how long the grant still holds; omitted for
	// lifetime grants and denials.
	RemainingSeconds *int64 `json:"remaining_seconds,omitempty"`
}

// EntitlementPayload is the full entitlement view of an account. Clients
// should gate on Capabilities, never on Tier.
type EntitlementPayload struct {
	AccountID     string `json:"account_id"`
	Tier          string `json:"tier"`
	TierDisplay   string `json:"tier_display"`
	PolicyVersion string `json:"policy_version"`
	EvaluatedAt   int64  `json:"evaluated_at"`

	LifecycleStage    string `json:"lifecycle_stage"`
	PaidAccess        bool   `json:"paid_access"`
	ShowUpgradePrompt bool   `json:"show_upgrade_prompt"`

	Capabilities []CapabilityStatus          `json:"capabilities"`
	Granted      []string                    `json:"granted"`
	Upgrades     []entitlements.UpgradePrompt `json:"upgrade_prompts"`
}

// EntitlementHandlers serves entitlement lookups for stored accounts.
type EntitlementHandlers struct {
	gate     *gate.Gate
	accounts gate.AccountSource
}

// NewEntitlementHandlers creates the handlers.
func NewEntitlementHandlers(g *gate.Gate, accounts gate.AccountSource) *EntitlementHandlers {
	return &EntitlementHandlers{gate: g, accounts: accounts}
}

// HandleEntitlements returns every capability decision for an account along
// with its lifecycle stage and upgrade prompts.
func (h *EntitlementHandlers) HandleEntitlements(w http.ResponseWriter, r *http.Request) {
	at, ok := h.evaluationTime(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	account, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, ierrors.ErrAccountNotFound) {
			writeError(w, r, http.StatusNotFound, "account_not_found", "Account not found", map[string]string{"account_id": id})
			return
		}
		writeInternalError(w, r, err, "Failed to load account")
		return
	}

	table := h.gate.Evaluator().Policy()
	decisions := h.gate.CheckAll(r.Context(), account, at)
	writeJSON(w, http.StatusOK, buildEntitlementPayload(table, account, decisions, at))
}

// HandleCapability returns a single decision. Legacy capability aliases are
// accepted. An unknown account is reported as a no_account denial.
func (h *EntitlementHandlers) HandleCapability(w http.ResponseWriter, r *http.Request) {
	at, ok := h.evaluationTime(w, r)
	if !ok {
		return
	}

	capability := entitlements.ParseCapability(r.PathValue("capability"))
	if capability == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_capability", "Capability is required", nil)
		return
	}

	decision, err := h.gate.CheckAccountAt(r.Context(), h.accounts, r.PathValue("id"), capability, at)
	if err != nil {
		writeInternalError(w, r, err, "Failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, capabilityStatus(decision, at))
}

// HandlePolicy describes the policy table currently being served.
func (h *EntitlementHandlers) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	table := h.gate.Evaluator().Policy()
	type entry struct {
		Capability    string `json:"capability"`
		TrialDuration string `json:"trial_duration,omitempty"`
		TierGatedOnly bool   `json:"tier_gated_only,omitempty"`
	}
	entries := make([]entry, 0, table.Len())
	for _, e := range table.Entries() {
		out := entry{Capability: string(e.Capability), TierGatedOnly: e.TierGatedOnly}
		if !e.TierGatedOnly {
			out.TrialDuration = e.TrialDuration.String()
		}
		entries = append(entries, out)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      table.Version(),
		"capabilities": entries,
	})
}

// evaluationTime reads the optional RFC 3339 "at" parameter. It writes a 400
// and returns false when the value is malformed.
func (h *EntitlementHandlers) evaluationTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("at"))
	if raw == "" {
		return h.gate.Now(), true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_time", "Parameter 'at' must be an RFC 3339 timestamp", map[string]string{"at": raw})
		return time.Time{}, false
	}
	return at.UTC(), true
}

func buildEntitlementPayload(table *entitlements.PolicyTable, account *entitlements.AccountSnapshot, decisions map[entitlements.Capability]entitlements.Decision, at time.Time) EntitlementPayload {
	stage := entitlements.Lifecycle(table, account, at)
	behavior := entitlements.GetStageBehavior(stage)

	payload := EntitlementPayload{
		AccountID:         account.ID,
		Tier:              string(account.Tier),
		TierDisplay:       account.Tier.Effective().DisplayName(),
		PolicyVersion:     table.Version(),
		EvaluatedAt:       at.Unix(),
		LifecycleStage:    string(stage),
		PaidAccess:        behavior.PaidAccess,
		ShowUpgradePrompt: behavior.ShowUpgradePrompt,
		Capabilities:      make([]CapabilityStatus, 0, len(decisions)),
		Granted:           []string{},
		Upgrades:          entitlements.GenerateUpgradePrompts(decisions),
	}

	for _, decision := range decisions {
		status := capabilityStatus(decision, at)
		payload.Capabilities = append(payload.Capabilities, status)
		if decision.Allowed {
			payload.Granted = append(payload.Granted, status.Capability)
		}
	}
	sort.Slice(payload.Capabilities, func(i, j int) bool {
		return payload.Capabilities[i].Capability < payload.Capabilities[j].Capability
	})
	sort.Strings(payload.Granted)
	return payload
}

func capabilityStatus(decision entitlements.Decision, at time.Time) CapabilityStatus {
	status := CapabilityStatus{
		Capability:  string(decision.Capability),
		DisplayName: decision.Capability.DisplayName(),
		Allowed:     decision.Allowed,
		Reason:      string(decision.Reason),
		GrantEndsAt: decision.GrantEndsAt,
	}
	if remaining := decision.Remaining(at); remaining > 0 {
		seconds := int64(remaining / time.Second)
		status.RemainingSeconds = &seconds
	}
	return status
}
