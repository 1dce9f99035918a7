package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"migrator/app/config"
	"migrator/internal/infrastructure/logging"
)

const cliExecutable = "migrator"

// app is what every subcommand gets after the root pre-run.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		logLevel   string
		a          = &app{}
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Coordinates bulk migration of document collections through a shared backlog",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
			logging.SetGlobal(a.logger)
			return nil
		},
	}

	cmd.SilenceUsage = true

	bindGlobalFlags(cmd.PersistentFlags(), &configFile, &logLevel)

	cmd.AddCommand(
		newInitializeCommand(a),
		newPlanCommand(a),
		newWorkCommand(a),
		newServeCommand(a),
		newStatusCommand(a),
		newClearCommand(a),
	)
	return cmd
}

func bindGlobalFlags(fs *pflag.FlagSet, configFile, logLevel *string) {
	fs.StringVarP(configFile, "config", "c", os.Getenv("MIGRATOR_CONFIG"), "Configuration file path (.hcl)")
	fs.StringVar(logLevel, "log-level", "", "Override the configured log level")
}
