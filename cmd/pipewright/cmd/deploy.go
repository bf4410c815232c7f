package cmd

import (
	"fmt"
	"log/slog"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/deploy"
	"github.com/pipewright/pipewright/internal/gcp"
	"github.com/pipewright/pipewright/internal/output"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/validate"
	"github.com/pipewright/pipewright/internal/verify"

	"github.com/spf13/cobra"
)

var (
	deployTelemetryProject string
	deployInferenceProject string
	deployRegion           string
	deployDataset          string
	deployNetwork          string
	deploySubnetwork       string
	deployInteractive      bool
	deployLogPrompts       bool
	deployPseudonymize     bool
	deployYes              bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision the telemetry pipeline and verify end-to-end flow",
	Long: `Provision the streaming telemetry pipeline (log sink, Pub/Sub topic,
Dataflow transform, BigQuery dataset and views) in dependent steps, then
verify end-to-end flow with a marker event. Steps are idempotent: re-running
a deployment adopts compatible resources and resumes where it left off.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runCfg, err := deployRunConfig(cmd)
		if err != nil {
			return err
		}

		if violations := validate.RunConfig(runCfg); len(violations) > 0 {
			output.Error("configuration is not deployable:")
			for _, v := range violations {
				output.Println("  - " + v)
			}
			return fmt.Errorf("configuration has %d violation(s)", len(violations))
		}

		output.Header("Deploying telemetry pipeline")
		output.KeyValue("Telemetry project", runCfg.TelemetryProjectID)
		if !runCfg.SameProject {
			output.KeyValue("Inference project", runCfg.InferenceProjectID)
		}
		output.KeyValue("Region", runCfg.Region)
		output.KeyValue("Dataset", runCfg.DatasetName)
		output.Blank()

		if !deployYes && !output.Confirm("Provision these resources?") {
			output.Warning("deployment aborted")
			return nil
		}

		ctx := cmd.Context()
		clients, err := gcp.NewClients(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize Google Cloud clients: %w", err)
		}

		log := slog.Default()
		st := store.New()
		seq := deploy.NewSequencer(
			st,
			deploy.NewProvisioner(clients, log),
			verify.New(clients, verify.DefaultOptions(), log),
			log,
		)

		run, err := seq.NewRun(runCfg)
		if err != nil {
			return err
		}

		runErr := seq.Run(ctx, run.RunID)

		final, getErr := st.Get(run.RunID)
		if getErr != nil {
			return getErr
		}
		output.PrintRun(final)

		if runErr != nil {
			return fmt.Errorf("deployment failed: %w", runErr)
		}

		output.Success("pipeline deployed and verified")
		return nil
	},
}

// deployRunConfig merges the stored configuration with command-line
// overrides. Flags win over the config file.
func deployRunConfig(cmd *cobra.Command) (api.RunConfig, error) {
	runCfg := api.RunConfig{
		AuthMode: api.AuthHeadless,
	}

	if cfg, err := getConfigFromContext(cmd); err == nil {
		runCfg = cfg.ToRunConfig()
	}

	if deployTelemetryProject != "" {
		runCfg.TelemetryProjectID = deployTelemetryProject
	}
	if deployInferenceProject != "" {
		runCfg.InferenceProjectID = deployInferenceProject
		runCfg.SameProject = deployInferenceProject == runCfg.TelemetryProjectID
	}
	if runCfg.InferenceProjectID == "" {
		runCfg.SameProject = true
	}
	if deployRegion != "" {
		runCfg.Region = deployRegion
	}
	if deployDataset != "" {
		runCfg.DatasetName = deployDataset
	}
	if deployNetwork != "" {
		runCfg.Network = deployNetwork
	}
	if deploySubnetwork != "" {
		runCfg.Subnetwork = deploySubnetwork
	}
	if deployInteractive {
		runCfg.AuthMode = api.AuthInteractive
	}
	if cmd.Flags().Changed("log-prompts") {
		runCfg.LogPrompts = deployLogPrompts
	}
	if cmd.Flags().Changed("pseudonymize-ids") {
		runCfg.PseudonymizeIDs = deployPseudonymize
	}

	return runCfg, nil
}

func init() {
	deployCmd.Flags().StringVar(&deployTelemetryProject, "telemetry-project", "", "Project hosting the pipeline resources")
	deployCmd.Flags().StringVar(&deployInferenceProject, "inference-project", "", "Project emitting telemetry (defaults to the telemetry project)")
	deployCmd.Flags().StringVar(&deployRegion, "region", "", "Region for the dataset, bucket, and Dataflow job")
	deployCmd.Flags().StringVar(&deployDataset, "dataset", "", "BigQuery dataset name")
	deployCmd.Flags().StringVar(&deployNetwork, "network", "", "VPC network for Dataflow workers")
	deployCmd.Flags().StringVar(&deploySubnetwork, "subnetwork", "", "VPC subnetwork for Dataflow workers")
	deployCmd.Flags().BoolVar(&deployInteractive, "interactive", false, "Use the browser-based gcloud login flow")
	deployCmd.Flags().BoolVar(&deployLogPrompts, "log-prompts", false, "Expose raw payloads in analytics views")
	deployCmd.Flags().BoolVar(&deployPseudonymize, "pseudonymize-ids", true, "Hash identifier columns in analytics views")
	deployCmd.Flags().BoolVarP(&deployYes, "yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(deployCmd)
}
