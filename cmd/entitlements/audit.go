package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LaTars4444/laeoutreach/internal/accounts"
	"github.com/LaTars4444/laeoutreach/internal/audit"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

type auditOptions struct {
	at           string
	capabilities []string
	format       string
	output       string
	concurrency  int
}

func newAuditCmd(global *globalOptions) *cobra.Command {
	opts := &auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Evaluate every stored account and write a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.at, "at", "", "evaluate at this time instead of now")
	cmd.Flags().StringSliceVar(&opts.capabilities, "capability", nil, "capabilities to audit (default: all in the policy table)")
	cmd.Flags().StringVar(&opts.format, "format", "csv", "report format (csv, json, pdf)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "accounts evaluated in parallel (default from config)")
	return cmd
}

func runAudit(cmd *cobra.Command, global *globalOptions, opts *auditOptions) error {
	format, err := audit.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	renderer, err := audit.RendererFor(format)
	if err != nil {
		return err
	}

	cfg, err := global.loadConfig("entitlements-audit")
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

	source, err := accounts.OpenSQLite(cfg.AccountsDBPath)
	if err != nil {
		return err
	}
	defer source.Close()

	capabilities := make([]entitlements.Capability, 0, len(opts.capabilities))
	for _, raw := range opts.capabilities {
		capabilities = append(capabilities, entitlements.ParseCapability(raw))
	}

	concurrency := opts.concurrency
	if concurrency < 1 {
		concurrency = cfg.AuditConcurrency
	}

	job := &audit.Job{
		Accounts:    source,
		Policies:    table,
		Concurrency: concurrency,
	}
	report, err := job.Run(cmd.Context(), at, capabilities)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	data, err := renderer.Render(report)
	if err != nil {
		return err
	}

	if opts.output == "" || opts.output == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Info().Str("path", opts.output).Str("format", string(format)).Str("run_id", report.RunID).Msg("Wrote audit report")
	return nil
}
