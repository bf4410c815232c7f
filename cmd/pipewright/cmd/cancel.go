package cmd

import (
	"log/slog"

	"github.com/pipewright/pipewright/internal/client"
	"github.com/pipewright/pipewright/internal/output"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Abort a deployment run",
	Long: `Record an operator abort for a run. The in-flight step finishes
naturally; no further step starts and nothing is rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd)
		if err != nil {
			return err
		}

		resp, err := client.New(cfg, slog.Default()).CancelRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		output.Warning("%s: %s", resp.RunID, resp.Message)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
