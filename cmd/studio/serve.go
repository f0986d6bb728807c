package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/studio-agent/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(nil)
			if err != nil {
				return err
			}

			logger.Info().
				Str("environment", cfg.Environment).
				Str("env_target", cfg.EnvTarget).
				Str("addr", cfg.HTTPAddr).
				Msg("starting studio agent")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("studio agent stopped")
			return nil
		},
	}
}
