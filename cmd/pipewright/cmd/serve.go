package cmd

import (
	"fmt"

	"github.com/pipewright/pipewright/internal/constants"
	"github.com/pipewright/pipewright/internal/deploy"
	"github.com/pipewright/pipewright/internal/gcp"
	"github.com/pipewright/pipewright/internal/logger"
	"github.com/pipewright/pipewright/internal/server"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/verify"

	"github.com/spf13/cobra"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment API server",
	Long: `Run the HTTP API that accepts deployment runs, reports step progress,
retries individual steps, and records operator aborts. Runs execute in the
background; their state survives for the lifetime of the process.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := getConfigFromContext(cmd)
		if err != nil {
			return err
		}

		log := logger.Initialize(cfg.GetEnvironment(), cfg.GetLogLevel())

		port := servePort
		if port == "" {
			port = cfg.Port
		}
		if port == "" {
			port = constants.DefaultPort
		}

		ctx := cmd.Context()
		clients, err := gcp.NewClients(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize Google Cloud clients: %w", err)
		}

		st := store.New()
		seq := deploy.NewSequencer(
			st,
			deploy.NewProvisioner(clients, log),
			verify.New(clients, verify.DefaultOptions(), log),
			log,
		)

		router := server.NewRouter(st, seq, log)
		return server.Run(ctx, port, router, log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (overrides configuration)")
	rootCmd.AddCommand(serveCmd)
}
