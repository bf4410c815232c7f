package cmd

import (
	"log/slog"
	"time"

	"github.com/pipewright/pipewright/internal/client"
	"github.com/pipewright/pipewright/internal/output"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show deployment runs known to the API server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd)
		if err != nil {
			return err
		}
		c := client.New(cfg, slog.Default())

		if len(args) == 1 {
			run, err := c.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			output.PrintRun(run)
			return nil
		}

		resp, err := c.ListRuns(cmd.Context())
		if err != nil {
			return err
		}

		if len(resp.Runs) == 0 {
			output.Info("no deployment runs yet")
			return nil
		}

		output.Table(
			[]string{"Run ID", "Status", "Steps", "Updated"},
			output.RunRows(resp.Runs, time.Now()),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
