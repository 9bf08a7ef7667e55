package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/LaTars4444/laeoutreach/internal/accounts"
	"github.com/LaTars4444/laeoutreach/internal/gate"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

type checkOptions struct {
	accountID  string
	tier       string
	createdAt  string
	expiresAt  string
	capability string
	at         string
}

// checkResult is the JSON document printed by the check command.
type checkResult struct {
	AccountID     string                  `json:"account_id,omitempty"`
	At            string                  `json:"at"`
	PolicyVersion string                  `json:"policy_version"`
	Decisions     []entitlements.Decision `json:"decisions"`
}

func newCheckCmd(global *globalOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate capabilities for one account",
		Long: `Evaluate capabilities for a stored account (--account-id) or for an
account described on the command line (--tier, --created-at, --expires-at).
Without --capability every capability in the policy table is evaluated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.accountID, "account-id", "", "stored account to evaluate")
	cmd.Flags().StringVar(&opts.tier, "tier", "free", "tier for an ad-hoc account (free, timed-subscription, lifetime, weekly, monthly)")
	cmd.Flags().StringVar(&opts.createdAt, "created-at", "", "creation time for an ad-hoc account")
	cmd.Flags().StringVar(&opts.expiresAt, "expires-at", "", "subscription expiry for an ad-hoc account")
	cmd.Flags().StringVar(&opts.capability, "capability", "", "capability to evaluate (legacy aliases accepted)")
	cmd.Flags().StringVar(&opts.at, "at", "", "evaluate at this time instead of now")
	cmd.MarkFlagsMutuallyExclusive("account-id", "created-at")
	return cmd
}

func runCheck(cmd *cobra.Command, global *globalOptions, opts *checkOptions) error {
	cfg, err := global.loadConfig("entitlements-check")
	if err != nil {
		return err
	}
	table, err := loadPolicy(cfg)
	if err != nil {
		return err
	}
	at, err := evaluationTime(opts.at)
	if err != nil {
		return err
	}

	capabilities := table.Capabilities()
	if opts.capability != "" {
		capabilities = []entitlements.Capability{entitlements.ParseCapability(opts.capability)}
	}

	g := gate.New(entitlements.NewEvaluator(table), entitlements.FixedClock(at), nil)
	ctx := cmd.Context()

	result := checkResult{
		AccountID:     opts.accountID,
		At:            at.Format(time.RFC3339),
		PolicyVersion: table.Version(),
		Decisions:     make([]entitlements.Decision, 0, len(capabilities)),
	}

	if opts.accountID != "" {
		source, err := accounts.OpenSQLite(cfg.AccountsDBPath)
		if err != nil {
			return err
		}
		defer source.Close()

		for _, capability := range capabilities {
			d, err := g.CheckAccount(ctx, source, opts.accountID, capability)
			if err != nil {
				return err
			}
			result.Decisions = append(result.Decisions, d)
		}
	} else {
		account, err := adHocAccount(opts)
		if err != nil {
			return err
		}
		for _, capability := range capabilities {
			result.Decisions = append(result.Decisions, g.Check(ctx, account, capability))
		}
	}

	sort.Slice(result.Decisions, func(i, j int) bool {
		return result.Decisions[i].Capability < result.Decisions[j].Capability
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func adHocAccount(opts *checkOptions) (*entitlements.AccountSnapshot, error) {
	if opts.createdAt == "" {
		return nil, fmt.Errorf("either --account-id or --created-at is required")
	}
	createdAt, err := parseTimeFlag("created-at", opts.createdAt)
	if err != nil {
		return nil, err
	}

	account := &entitlements.AccountSnapshot{
		Tier:      entitlements.ParseTier(opts.tier),
		CreatedAt: createdAt,
	}
	if !account.Tier.Valid() {
		return nil, fmt.Errorf("unknown tier %q", opts.tier)
	}
	if opts.expiresAt != "" {
		expiresAt, err := parseTimeFlag("expires-at", opts.expiresAt)
		if err != nil {
			return nil, err
		}
		account.SubscriptionExpiresAt = &expiresAt
	}
	return account, nil
}
