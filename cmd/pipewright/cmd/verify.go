package cmd

import (
	"fmt"
	"log/slog"

	"github.com/pipewright/pipewright/internal/gcp"
	"github.com/pipewright/pipewright/internal/output"
	"github.com/pipewright/pipewright/internal/validate"
	"github.com/pipewright/pipewright/internal/verify"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify end-to-end pipeline flow with a marker event",
	Long: `Inject a uniquely marked log entry and poll every pipeline hop
(Cloud Logging, Pub/Sub, Dataflow, BigQuery) until the marker is observed or
the per-hop budget runs out. Safe to run against a live pipeline at any time.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := getConfigFromContext(cmd)
		if err != nil {
			return err
		}
		runCfg := cfg.ToRunConfig()

		if violations := validate.RunConfig(runCfg); len(violations) > 0 {
			output.Error("configuration is not verifiable:")
			for _, v := range violations {
				output.Println("  - " + v)
			}
			return fmt.Errorf("configuration has %d violation(s)", len(violations))
		}

		ctx := cmd.Context()
		clients, err := gcp.NewClients(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize Google Cloud clients: %w", err)
		}

		output.Info("injecting marker event into %s", output.Bold(runCfg.TelemetryProjectID))

		report := verify.New(clients, verify.DefaultOptions(), slog.Default()).Verify(ctx, runCfg)
		output.PrintVerification(report)

		if !report.Success {
			return fmt.Errorf("pipeline verification failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
