// Package cmd provides the CLI commands for errledger.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the config file
	cfgFile string
	// verbose enables debug logging and verbose output
	verbose bool
	// outputFormat specifies the output format (json, plain)
	outputFormat string
)

const rootLong = `errledger keeps open error counts of pipeline executions and error codes,
ranks them for operators and resumes paused workflow stages once their
errors clear.

Configuration is read from errledger.yaml (or --config), ERRLEDGER_*
environment variables and command-line flags, in increasing precedence.`

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates a fresh command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "errledger",
		Short:        "Error ledger for pipeline executions",
		Long:         rootLong,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./errledger.yaml or /etc/errledger/errledger.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "output format (json|plain)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newGateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// printVerbose prints message only if verbose mode is enabled.
func printVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}
