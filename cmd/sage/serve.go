package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/internal/app"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingestion pipeline and Kafka consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			service := app.New(cfg, logger)
			if err := service.Start(ctx); err != nil {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				_ = service.Stop(stopCtx)
				return err
			}

			<-ctx.Done()
			logger.Info("Shutting down...")

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := service.Stop(stopCtx); err != nil {
				logger.WithError(err).Error("Shutdown did not complete cleanly")
				return err
			}
			logger.Info("Shutdown complete")
			return nil
		},
	}
}
