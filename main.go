package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Leantar/dirwatch/agent"
	"github.com/Leantar/dirwatch/modules/config"
	"github.com/Leantar/dirwatch/modules/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Caller().Err(err).Msg("failed to run dirwatch")
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "dirwatch",
		Short:         "Watch directories and report changes of their entries",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var conf agent.Config
			if err := config.FromYamlFile(configPath, &conf); err != nil {
				return err
			}
			if logLevel != "" {
				conf.Log.Level = logLevel
			}

			closer, err := logging.Setup(conf.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			return run(cmd.Context(), conf)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Specify a path to load the config from")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	return cmd
}

func run(ctx context.Context, conf agent.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := agent.New(conf)

	if err := a.Connect(); err != nil {
		return err
	}

	err := a.Run(ctx)

	if stopErr := a.Stop(); stopErr != nil {
		log.Error().Caller().Err(stopErr).Msg("failed to stop agent")
	}
	return err
}
