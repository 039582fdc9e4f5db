package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command with the flags shared by every
// subcommand.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "cryptoflow",
		Short:   "Adaptive parallel file encryption",
		Version: version,
		Long: `Cryptoflow encrypts batches of files with per-file data keys wrapped
under a password-derived master key. Worker count and chunk size are
calibrated once per process; expensive files can be scheduled last so
cheap ones finish early.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	root.PersistentFlags().StringP("password", "p", "", "Batch password (or CRYPTOFLOW_PASSWORD)")

	root.AddCommand(NewEncryptCommand(), NewDecryptCommand(), NewTuneCommand())

	return root
}

// Execute runs the CLI.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}
