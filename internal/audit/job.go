package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

const defaultConcurrency = 4

// AccountLister enumerates every stored account.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]*entitlements.AccountSnapshot, error)
}

// Job evaluates every account against a set of capabilities.
type Job struct {
	Accounts    AccountLister
	Policies    entitlements.PolicySource
	Concurrency int
	Clock       entitlements.Clock
}

// Run evaluates all accounts at the historical instant at. When capabilities
// is empty every capability in the policy table is audited. One policy
// snapshot is used for the whole run so a concurrent reload cannot split the
// report across two tables. Rows are ordered by account, then capability.
func (j *Job) Run(ctx context.Context, at time.Time, capabilities []entitlements.Capability) (*Report, error) {
	if j.Accounts == nil {
		return nil, errors.New("audit job has no account source")
	}
	if j.Policies == nil {
		return nil, errors.New("audit job has no policy source")
	}

	clock := j.Clock
	if clock == nil {
		clock = entitlements.SystemClock{}
	}
	generatedAt := clock.Now()

	table := j.Policies.Current()
	if len(capabilities) == 0 {
		capabilities = table.Capabilities()
	}

	accounts, err := j.Accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	limit := j.Concurrency
	if limit < 1 {
		limit = defaultConcurrency
	}

	perAccount := make([][]Row, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, account := range accounts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows := make([]Row, 0, len(capabilities))
			for _, capability := range capabilities {
				d := entitlements.Evaluate(table, account, capability, at)
				row := Row{
					Capability:  capability,
					Allowed:     d.Allowed,
					Reason:      d.Reason,
					GrantEndsAt: d.GrantEndsAt,
				}
				if account != nil {
					row.AccountID = account.ID
					row.Tier = account.Tier
				}
				rows = append(rows, row)
			}
			perAccount[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(accounts)*len(capabilities))
	for _, r := range perAccount {
		rows = append(rows, r...)
	}

	report := &Report{
		RunID:         ulid.MustNew(ulid.Timestamp(generatedAt), ulid.DefaultEntropy()).String(),
		At:            at,
		GeneratedAt:   generatedAt,
		PolicyVersion: table.Version(),
		Capabilities:  capabilities,
		Rows:          rows,
		Summary:       summarize(len(accounts), rows),
	}

	log.Info().
		Str("run_id", report.RunID).
		Time("at", at).
		Str("policy_version", report.PolicyVersion).
		Int("accounts", len(accounts)).
		Int("allowed", report.Summary.Allowed).
		Int("denied", report.Summary.Denied).
		Msg("Entitlement audit completed")
	return report, nil
}
