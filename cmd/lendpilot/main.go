// Package main is the lendpilot CLI: daily reserve sync, historical backfill,
// source audits, schema migrations, reports and a long-running scheduler.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/PilotDAO/lendpilot-sub000/internal/config"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	useMemory  bool

	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "lendpilot",
		Short:        "Lending market reserve yield and utilization sync",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "config.yml", "Path to configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional .env file loaded before the config")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	flags.BoolVar(&opts.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")

	root.AddCommand(
		newSyncCmd(opts),
		newCollectCmd(opts),
		newBackfillCmd(opts),
		newAuditCmd(opts),
		newMigrateCmd(opts),
		newReportCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// load reads .env and the config file, then builds the logger.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}
	if o.useMemory {
		os.Setenv(config.EnvUseMemory, "true")
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	o.cfg = cfg
	o.logger = observability.NewLoggerWithLevel("lendpilot", observability.ParseLogLevel(cfg.Logging.Level)).
		With().Str("command", cmd.Name()).Logger()
	return nil
}

// withApp builds the application for one command and closes it afterwards.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, o.cfg, o.logger)
	if err != nil {
		o.logger.Error().Err(err).Msg("initialization failed")
		return err
	}
	defer a.Close()
	return fn(a)
}
