package api

import (
	"net/http"

	"github.com/LaTars4444/laeoutreach/internal/gate"
	"github.com/LaTars4444/laeoutreach/internal/logging"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// AccountIDFunc extracts the session's account ID from a request. An empty
// result means no account is signed in.
type AccountIDFunc func(r *http.Request) string

// RequireCapability is a middleware that checks whether the requesting
// account may use capability. Returns HTTP 402 Payment Required when it may not.
func RequireCapability(g *gate.Gate, accounts gate.AccountSource, capability entitlements.Capability, accountID AccountIDFunc, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if accountID != nil {
			id = accountID(r)
		}

		var (
			decision entitlements.Decision
			err      error
		)
		if id == "" {
			decision = g.Check(r.Context(), nil, capability)
		} else {
			decision, err = g.CheckAccount(r.Context(), accounts, id, capability)
		}
		if err != nil {
			writeInternalError(w, r, err, "Failed to check entitlement")
			return
		}

		if !decision.Allowed {
			logger := logging.FromContext(r.Context())
			logger.Debug().
				Str("account_id", id).
				Str("capability", string(capability)).
				Str("reason", string(decision.Reason)).
				Msg("Capability required")
			WriteCapabilityRequired(w, decision)
			return
		}
		next(w, r)
	}
}

// WriteCapabilityRequired writes the canonical 402 response for a denied
// capability.
func WriteCapabilityRequired(w http.ResponseWriter, decision entitlements.Decision) {
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":       "capability_required",
		"message":     decision.Capability.DisplayName() + " requires an active subscription",
		"capability":  string(decision.Capability),
		"reason":      string(decision.Reason),
		"upgrade_url": entitlements.UpgradeURLForCapability(decision.Capability),
	})
}
