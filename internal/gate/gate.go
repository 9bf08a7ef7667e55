// Package gate is the request-layer entry point to the entitlement evaluator.
// It reads the clock, evaluates, and records the outcome so callers never
// consult the evaluator directly.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	ierrors "github.com/LaTars4444/laeoutreach/internal/errors"
	"github.com/LaTars4444/laeoutreach/internal/logging"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// AccountSource resolves account snapshots by ID. Implementations return an
// error matching errors.ErrAccountNotFound when the ID is unknown.
type AccountSource interface {
	GetAccount(ctx context.Context, id string) (*entitlements.AccountSnapshot, error)
}

// DecisionRecorder observes every decision the gate makes. registered is
// false when the capability was not in the policy table used for the decision.
type DecisionRecorder interface {
	RecordDecision(decision entitlements.Decision, registered bool)
}

// DeniedError is returned by Require when a capability is not granted.
type DeniedError struct {
	Decision entitlements.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s requires an upgrade (%s)", ierrors.ErrCapabilityDenied, e.Decision.Capability.DisplayName(), e.Decision.Reason)
}

// Is matches errors.ErrCapabilityDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ierrors.ErrCapabilityDenied
}

// Gate couples an evaluator with a clock and an optional recorder.
type Gate struct {
	evaluator *entitlements.Evaluator
	clock     entitlements.Clock
	recorder  DecisionRecorder
}

// New creates a gate. A nil clock uses the system clock; recorder may be nil.
func New(evaluator *entitlements.Evaluator, clock entitlements.Clock, recorder DecisionRecorder) *Gate {
	if clock == nil {
		clock = entitlements.SystemClock{}
	}
	return &Gate{evaluator: evaluator, clock: clock, recorder: recorder}
}

// Evaluator returns the evaluator the gate consults.
func (g *Gate) Evaluator() *entitlements.Evaluator {
	return g.evaluator
}

// Now reads the gate's clock.
func (g *Gate) Now() time.Time {
	return g.clock.Now()
}

// Check evaluates capability for account at the current instant.
func (g *Gate) Check(ctx context.Context, account *entitlements.AccountSnapshot, capability entitlements.Capability) entitlements.Decision {
	return g.CheckAt(ctx, account, capability, g.clock.Now())
}

// CheckAt evaluates capability for account at a caller-chosen instant.
func (g *Gate) CheckAt(ctx context.Context, account *entitlements.AccountSnapshot, capability entitlements.Capability, now time.Time) entitlements.Decision {
	table := g.evaluator.Policy()
	decision := entitlements.Evaluate(table, account, capability, now)
	_, registered := table.Lookup(capability)
	g.observe(ctx, account, decision, registered)
	return decision
}

// CheckAll evaluates every registered capability for account at now.
func (g *Gate) CheckAll(ctx context.Context, account *entitlements.AccountSnapshot, now time.Time) map[entitlements.Capability]entitlements.Decision {
	decisions := g.evaluator.EvaluateAll(account, now)
	for _, decision := range decisions {
		g.observe(ctx, account, decision, true)
	}
	return decisions
}

// Require returns a *DeniedError when capability is not granted.
func (g *Gate) Require(ctx context.Context, account *entitlements.AccountSnapshot, capability entitlements.Capability) error {
	decision := g.Check(ctx, account, capability)
	if !decision.Allowed {
		return &DeniedError{Decision: decision}
	}
	return nil
}

// CheckAccount resolves id through source and evaluates it now. An unknown
// account yields a no_account decision rather than an error; other lookup
// failures are returned.
func (g *Gate) CheckAccount(ctx context.Context, source AccountSource, id string, capability entitlements.Capability) (entitlements.Decision, error) {
	return g.CheckAccountAt(ctx, source, id, capability, g.clock.Now())
}

// CheckAccountAt is CheckAccount at a caller-chosen instant.
func (g *Gate) CheckAccountAt(ctx context.Context, source AccountSource, id string, capability entitlements.Capability, now time.Time) (entitlements.Decision, error) {
	account, err := source.GetAccount(ctx, id)
	if err != nil {
		if !errors.Is(err, ierrors.ErrAccountNotFound) {
			return entitlements.Decision{}, err
		}
		account = nil
	}
	return g.CheckAt(ctx, account, capability, now), nil
}

func (g *Gate) observe(ctx context.Context, account *entitlements.AccountSnapshot, decision entitlements.Decision, registered bool) {
	if g.recorder != nil {
		g.recorder.RecordDecision(decision, registered)
	}

	logger := logging.FromContext(ctx)
	event := logger.Debug().
		Str("capability", string(decision.Capability)).
		Bool("allowed", decision.Allowed).
		Str("reason", string(decision.Reason))
	if account != nil {
		event = event.Str("account_id", account.ID).Str("tier", string(account.Tier))
	}
	event.Msg("Entitlement decision")
}
