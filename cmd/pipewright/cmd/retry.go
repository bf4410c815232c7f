package cmd

import (
	"log/slog"

	"github.com/pipewright/pipewright/internal/client"
	"github.com/pipewright/pipewright/internal/output"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <run-id> <step>",
	Short: "Retry a failed step of a deployment run",
	Long: `Retry a single step on the API server. All predecessor steps must
already be completed; only failed or pending steps can be started. The step
runs in the background; poll the run with "status" to follow it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd)
		if err != nil {
			return err
		}

		run, err := client.New(cfg, slog.Default()).RunStep(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		output.PrintRun(run)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
