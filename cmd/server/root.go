package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockkeeper/internal/app"
	"stockkeeper/internal/config"
	"stockkeeper/internal/infrastructure/logger"
	"stockkeeper/internal/infrastructure/tracing"
)

const serviceName = "stockkeeper"

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Inventory ledger and reservation service",
		Long:          "Tracks stock per product, holds it for orders with time-boxed reservations and relays inventory events to a message broker.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file; environment variables override it")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newPublishCommand(opts),
		newSweepCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

// runtime is what every subcommand needs: config, logger and the wired app.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *app.App
	close  func()
}

func setup(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level, serviceName)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	tp, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint, zapLogger)
	if err != nil {
		_ = zapLogger.Sync()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	a, err := app.New(ctx, cfg, clockwork.NewRealClock(), zapLogger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = zapLogger.Sync()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: zapLogger,
		app:    a,
		close: func() {
			if err := a.Close(); err != nil {
				zapLogger.Warn("closing resources", zap.Error(err))
			}
			if err := tp.Shutdown(context.Background()); err != nil {
				zapLogger.Warn("flushing traces", zap.Error(err))
			}
			_ = zapLogger.Sync()
		},
	}, nil
}
