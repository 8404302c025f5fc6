package worker

import (
	"fmt"
	"os/signal"
	"syscall"

	"reconpipe/internal/app"
	"reconpipe/internal/config"

	"github.com/spf13/cobra"
)

type WorkerOpts struct {
	ConfigPath    string
	WithScheduler bool
}

// NewWorkerCommand runs stage workers only. Useful for scaling consumers
// horizontally against a shared Redis queue.
func NewWorkerCommand() *cobra.Command {
	opts := &WorkerOpts{}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run stage workers without the trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
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

			if opts.WithScheduler {
				go a.RunScheduler(ctx)
			}

			if err := a.RunWorkers(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			a.Log.Info("Workers stopped")
			return nil
		},
	}

	workerCmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Configuration file path")
	workerCmd.Flags().BoolVar(&opts.WithScheduler, "with-scheduler", false, "Also run the gap scheduler in this process")

	return workerCmd
}
