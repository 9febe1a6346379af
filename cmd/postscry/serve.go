package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/postscry/internal/server"
)

func newServeCmd() *cobra.Command {
	var warm bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if warm {
				if err := a.sessions.EnsureReady(ctx); err != nil {
					logger.Warn("Browser warm-up failed; the session starts with the first task", zap.Error(err))
				}
			}

			srv := server.NewServer(cfg, a.tasks, a.sessions, logger)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error { return a.tasks.RunSweeper(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("Shutdown signal received")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Browser.ShutdownTimeout+5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("HTTP server shutdown failed", zap.Error(err))
				}
				return a.shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				logger.Error("postscry stopped with error", zap.Error(err))
				return err
			}
			logger.Info("postscry exited gracefully.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", false, "start the browser and load cookies before accepting requests")
	return cmd
}
