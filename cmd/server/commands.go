package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockkeeper/internal/config"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.app.Migrate(cmd.Context()); err != nil {
				return err
			}
			rt.logger.Info("schema migrated")
			return nil
		},
	}
}

func newPublishCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Run one outbox publish cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.app.Publish(cmd.Context())
			if err != nil {
				return err
			}
			rt.logger.Info("publish cycle done",
				zap.Int("published", result.Published),
				zap.Int("failed", result.Failed),
				zap.Int("skipped", result.Skipped))
			return nil
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release expired reservations once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.app.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			rt.logger.Info("sweep done", zap.Int("swept", result.Swept), zap.Int("failed", result.Failed))
			return nil
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML, secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
