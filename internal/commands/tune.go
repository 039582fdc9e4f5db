package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewTuneCommand creates the tune subcommand. It runs the calibration that
// encrypt and decrypt would otherwise run lazily and prints the result.
func NewTuneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tune",
		Short: "Calibrate worker count and chunk size for this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.InheritedFlags().GetString("config")

			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer app.close()

			tuned, err := app.tuner.Config()
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "workers:    %d\nchunk_size: %d\n", tuned.Workers, tuned.ChunkSize)
			return nil
		},
	}
}
