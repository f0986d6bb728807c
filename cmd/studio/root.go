package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/studio-agent/internal/config"
)

// newRootCmd creates the root studio command with all subcommands attached.
// Running it without a subcommand serves the API.
func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	cmd := &cobra.Command{
		Use:           "studio",
		Short:         "Creative studio agent",
		Long:          "studio serves the chat assistant and artifact API for creative productions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.AddCommand(
		serve,
		newMigrateCmd(),
		newCatalogCmd(),
	)

	return cmd
}

// loadConfig reads the environment and builds the process logger.
func loadConfig(out io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg, out), nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Caller().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Logger = logger
	return logger
}
