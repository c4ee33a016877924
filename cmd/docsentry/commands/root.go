// Package commands implements the DocSentry CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docsentry",
		Short: "DocSentry - document change tracking for chat",
		Long: `DocSentry watches cloud documents for changes and notifies the chat
channels that asked about them. It combines provider push events with a
periodic polling sweep so nothing is missed.

Examples:
  docsentry serve
  docsentry setup
  docsentry status
  docsentry changes doccnXXXX`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newStatusCmd(),
		newChangesCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
