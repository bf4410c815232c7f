package cmd

import (
	"log/slog"

	"github.com/pipewright/pipewright/internal/client"
	"github.com/pipewright/pipewright/internal/constants"
	"github.com/pipewright/pipewright/internal/output"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of the CLI",
	Run: func(cmd *cobra.Command, _ []string) {
		output.KeyValue("CLI version", *constants.GetVersion())

		cfg, err := getConfigFromContext(cmd)
		if err != nil {
			return
		}

		health, err := client.New(cfg, slog.Default()).GetHealth(cmd.Context())
		if err != nil {
			// No server running is fine for a version check.
			return
		}

		output.KeyValue("Server version", health.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
