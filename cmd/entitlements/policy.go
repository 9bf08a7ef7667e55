package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LaTars4444/laeoutreach/internal/policyconfig"
)

func newPolicyCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect policy tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a policy file loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := policyconfig.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (version %s, %d capabilities)\n", args[0], table.Version(), table.Len())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [file]",
		Short: "Print the effective policy table",
		Long:  "Print the policy table from file, the configured policy path, or the built-in table.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				global.policyPath = args[0]
			}
			cfg, err := global.loadConfig("entitlements-policy")
			if err != nil {
				return err
			}
			table, err := loadPolicy(cfg)
			if err != nil {
				return err
			}
			data, err := policyconfig.Marshal(table)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}
