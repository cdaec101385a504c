package main

import (
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/sage/config"
)

type options struct {
	envFile string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sage",
		Short:         "Probabilistic record linkage and golden record service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newMigrateCommand(opts))
	root.AddCommand(newRulesCommand(opts))
	return root
}

// load reads configuration and builds the logger it asks for
func (o *options) load() (*config.Config, ectologger.Logger, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.InitialFields = map[string]any{"service": cfg.AppName, "version": cfg.Version}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}
