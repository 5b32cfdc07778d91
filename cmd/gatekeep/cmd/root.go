// Package cmd provides the CLI commands for gatekeep.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gatekeep",
	Short: "gatekeep - a security gateway for MCP tool servers",
	Long: `gatekeep is an MCP server over stdio that hosts its tool plugins
in-process, enforcing a declarative policy on every tool call: network
firewall, filesystem/command sanitization, per-tool rate limits, and an
audit trail. It does not proxy to an upstream server.

Quick start:
  1. Create a policy file: gatekeep.yaml
  2. Run: gatekeep serve

Configuration:
  The policy is loaded from gatekeep.yaml in the current directory,
  $HOME/.gatekeep/, or /etc/gatekeep/.

  Environment variables can override policy values with the GATEKEEP_
  prefix. Example: GATEKEEP_TOOLS_TIMEOUT=60

Commands:
  serve            Run the MCP security gateway over stdio
  validate-policy  Check a policy file for errors without starting the gateway
  version          Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "policy file (default: ./gatekeep.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
