package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
)

var validatePolicyCmd = &cobra.Command{
	Use:   "validate-policy",
	Short: "Check a policy file for errors without starting the gateway",
	Long: `Load and validate the policy document the same way "gatekeep serve"
would, reporting any schema or constraint violation, then exit without
starting the transport loop.`,
	RunE: runValidatePolicy,
}

func init() {
	rootCmd.AddCommand(validatePolicyCmd)
}

func runValidatePolicy(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPolicyConfig()
	if err != nil {
		return fmt.Errorf("policy invalid: %w", err)
	}

	file := config.ConfigFileUsed()
	if file == "" {
		file = "(environment variables only)"
	}
	fmt.Printf("Policy OK: %s\n", file)
	fmt.Printf("  version:          %s\n", cfg.Version)
	fmt.Printf("  allowed ranges:   %d\n", len(cfg.Network.AllowedRanges))
	fmt.Printf("  allowed endpoints: %d\n", len(cfg.Network.AllowedEndpoints))
	fmt.Printf("  blocked ports:    %d\n", len(cfg.Network.BlockedPorts))
	fmt.Printf("  blocked commands: %d\n", len(cfg.Commands.Blocked))
	fmt.Printf("  rate limits:      %d rule(s)\n", len(cfg.Tools.RateLimits))
	if cfg.Audit.LogFile != "" {
		fmt.Printf("  audit log:        %s\n", cfg.Audit.LogFile)
	} else {
		fmt.Printf("  audit log:        disabled\n")
	}
	return nil
}
