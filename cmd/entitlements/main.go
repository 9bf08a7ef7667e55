package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LaTars4444/laeoutreach/internal/config"
	"github.com/LaTars4444/laeoutreach/internal/logging"
	"github.com/LaTars4444/laeoutreach/internal/policyconfig"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// globalOptions are flags shared by every subcommand. Non-empty values
// override the loaded configuration.
type globalOptions struct {
	policyPath string
	dbPath     string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "entitlements",
		Short:         "Entitlement resolution for LaeOutreach accounts",
		Long:          `Decides which capabilities an account may use based on its tier, subscription expiry and per-capability trial windows.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.policyPath, "policy", "", "policy table YAML file (default: built-in table)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "accounts SQLite database")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (auto, json, console)")

	root.AddCommand(
		newVersionCmd(),
		newCheckCmd(opts),
		newAuditCmd(opts),
		newPolicyCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entitlements %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration, applies flag overrides and initializes
// logging.
func (o *globalOptions) loadConfig(component string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if o.policyPath != "" {
		cfg.PolicyPath = o.policyPath
	}
	if o.dbPath != "" {
		cfg.AccountsDBPath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: component,
		FilePath:  cfg.LogFile,
	})
	return cfg, nil
}

// loadPolicy returns the configured policy table, or the built-in one when no
// file is configured.
func loadPolicy(cfg *config.Config) (*entitlements.PolicyTable, error) {
	if cfg.PolicyPath == "" {
		return entitlements.DefaultPolicyTable(), nil
	}
	table, err := policyconfig.LoadFile(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("policy_path", cfg.PolicyPath).Str("version", table.Version()).Msg("Loaded policy table")
	return table, nil
}

var timeFlagLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimeFlag parses a timestamp flag. Values without a zone are UTC.
func parseTimeFlag(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeFlagLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q: expected RFC 3339 or YYYY-MM-DD[ HH:MM:SS]", name, raw)
}

// evaluationTime returns the --at flag value or the current time.
func evaluationTime(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return entitlements.SystemClock{}.Now(), nil
	}
	return parseTimeFlag("at", raw)
}
