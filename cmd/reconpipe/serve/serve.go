package serve

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"reconpipe/internal/app"
	"reconpipe/internal/config"
	"reconpipe/pkg/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type ServeOpts struct {
	ConfigPath string
	ListenAddr string
}

// NewServeCommand runs the full deployment in one process: the trigger API,
// the stage workers and the gap scheduler.
func NewServeCommand() *cobra.Command {
	opts := &ServeOpts{}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trigger API, stage workers and gap scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if opts.ListenAddr != "" {
				cfg.ListenAddr = opts.ListenAddr
			}

			a, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("initializing application: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					a.Log.WithError(closeErr).Error("Error closing application")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: a.Router(),
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.RunWorkers(ctx)
			})
			g.Go(func() error {
				a.RunScheduler(ctx)
				return nil
			})
			g.Go(func() error {
				a.Log.WithFields(logger.Fields{"addr": cfg.ListenAddr}).Info("HTTP server listening")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			a.Log.Info("Shutdown complete")
			return nil
		},
	}

	serveCmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Configuration file path")
	serveCmd.Flags().StringVarP(&opts.ListenAddr, "listen", "l", "", "Address to bind the HTTP server to")

	return serveCmd
}
