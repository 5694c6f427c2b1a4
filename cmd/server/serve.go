package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stockkeeper/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrate, noJobs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the outbox publisher and expiration sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			if migrate {
				if err := rt.app.Migrate(ctx); err != nil {
					return err
				}
				rt.logger.Info("schema migrated")
			}

			srv := server.New(rt.cfg.Server.Port, rt.app.Handler(), rt.logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)

			if !noJobs {
				sched, err := rt.app.NewScheduler()
				if err != nil {
					return err
				}
				sched.Start()
				g.Go(func() error {
					<-ctx.Done()
					return sched.Shutdown()
				})
			}

			g.Go(func() error {
				<-ctx.Done()
				rt.logger.Info("received shutdown signal")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				rt.logger.Error("stopped with error", zap.Error(err))
				return err
			}
			rt.logger.Info("server stopped gracefully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "serve HTTP only, without background jobs")
	return cmd
}
