package main

import (
	"context"

	"reconpipe/cmd/reconpipe/serve"
	"reconpipe/cmd/reconpipe/worker"

	"github.com/spf13/cobra"
)

func Execute() error {
	var rootCmd = &cobra.Command{
		Use:   "reconpipe",
		Short: "An asynchronous multi-stage reconnaissance scan pipeline",
		Long:  `Reconpipe discovers, resolves, classifies, fetches and analyzes attack-surface assets through a chained scan pipeline backed by a durable asset store`,
	}

	rootCmd.AddCommand(serve.NewServeCommand())
	rootCmd.AddCommand(worker.NewWorkerCommand())
	return rootCmd.ExecuteContext(context.Background())
}
