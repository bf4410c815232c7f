package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipewright/pipewright/internal/constants"
)

// Run starts the deployment API server and blocks until shutdown. It stops on
// SIGINT/SIGTERM or context cancellation and drains in-flight requests within
// the shutdown timeout. Background deployment runs are not interrupted by
// shutdown; their state stays in the store.
func Run(ctx context.Context, port string, router *Router, log *slog.Logger) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router.Handler(),
		ReadTimeout:  constants.ServerReadTimeout,
		WriteTimeout: constants.ServerWriteTimeout,
		IdleTimeout:  constants.ServerIdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting deployment API server",
			"port", port,
			"version", *constants.GetVersion(),
		)

		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("failed to start server: %w", serveErr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case runErr := <-serverErrors:
		return runErr
	case <-quit:
		log.Info("shutting down deployment API server...")
	case <-ctx.Done():
		log.Info("shutting down deployment API server...", "reason", ctx.Err())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("server shutdown error: %w", shutdownErr)
	}

	log.Info("deployment API server shutdown complete")
	return nil
}
