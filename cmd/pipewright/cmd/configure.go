package cmd

import (
	"fmt"

	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/output"
	"github.com/pipewright/pipewright/internal/validate"

	"github.com/spf13/cobra"
)

var (
	configureTelemetryProject string
	configureInferenceProject string
	configureRegion           string
	configureDataset          string
	configureNetwork          string
	configureSubnetwork       string
	configureAPIEndpoint      string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Save deployment configuration for later runs",
	Long: `Write the deployment target to ~/.pipewright/config.yaml so deploy,
verify, and status can run without repeating flags.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := &config.Config{}
		if existing, err := getConfigFromContext(cmd); err == nil {
			cfg = existing
		}

		if configureTelemetryProject != "" {
			cfg.TelemetryProjectID = configureTelemetryProject
		}
		if configureInferenceProject != "" {
			cfg.InferenceProjectID = configureInferenceProject
			cfg.SameProject = configureInferenceProject == cfg.TelemetryProjectID
		}
		if configureRegion != "" {
			cfg.Region = configureRegion
		}
		if configureDataset != "" {
			cfg.DatasetName = configureDataset
		}
		if configureNetwork != "" {
			cfg.Network = configureNetwork
		}
		if configureSubnetwork != "" {
			cfg.Subnetwork = configureSubnetwork
		}
		if configureAPIEndpoint != "" {
			cfg.APIEndpoint = configureAPIEndpoint
		}

		if violations := validate.RunConfig(cfg.ToRunConfig()); len(violations) > 0 {
			output.Warning("saved configuration is not yet deployable:")
			for _, v := range violations {
				output.Println("  - " + v)
			}
		}

		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}

		configPath, err := config.GetConfigPath()
		if err == nil {
			output.Success("configuration saved to %s", output.Bold(configPath))
		}
		return nil
	},
}

func init() {
	configureCmd.Flags().StringVar(&configureTelemetryProject, "telemetry-project", "", "Project hosting the pipeline resources")
	configureCmd.Flags().StringVar(&configureInferenceProject, "inference-project", "", "Project emitting telemetry")
	configureCmd.Flags().StringVar(&configureRegion, "region", "", "Region for the dataset, bucket, and Dataflow job")
	configureCmd.Flags().StringVar(&configureDataset, "dataset", "", "BigQuery dataset name")
	configureCmd.Flags().StringVar(&configureNetwork, "network", "", "VPC network for Dataflow workers")
	configureCmd.Flags().StringVar(&configureSubnetwork, "subnetwork", "", "VPC subnetwork for Dataflow workers")
	configureCmd.Flags().StringVar(&configureAPIEndpoint, "api-endpoint", "", "Deployment API server endpoint")

	rootCmd.AddCommand(configureCmd)
}
