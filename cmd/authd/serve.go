package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the account API. Pending migrations are applied first and the
metrics server is started when metrics.addr is set.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}

	var metricsErr <-chan error
	if svc.metrics != nil {
		if metricsErr, err = svc.metrics.Start(); err != nil {
			return err
		}
	}

	httpErr := make(chan error, 1)
	go func() {
		svc.logger.Info("Starting HTTP server", "addr", cfg.HTTP.Addr)
		httpErr <- svc.server.Serve(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		svc.logger.Info("Shutdown signal received")
	case err = <-httpErr:
		svc.logger.Error("HTTP server stopped", "error", err)
	case err = <-metricsErr:
		svc.logger.Error("Metrics server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := svc.shutdown(shutdownCtx); shutdownErr != nil {
		svc.logger.Error("Shutdown incomplete", "error", shutdownErr)
		if err == nil {
			err = shutdownErr
		}
	}

	return err
}
