package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mawngo/kclust/internal/config"
	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/transport/local"
)

func newRunCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Cluster with every rank running in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts, err := controllerOptions(ctx, cfg)
			if err != nil {
				return err
			}
			res, err := runLocal(ctx, cfg.NumWorkers, cfg.Loader(), opts...)
			if err != nil {
				return err
			}
			return writeResult(cfg, res)
		},
	}
}

// runLocal runs workers ranks on goroutines and returns the coordinator result.
func runLocal(ctx context.Context, workers int, load kmeans.Loader, opts ...kmeans.Option) (*kmeans.Result, error) {
	now := time.Now()
	g, err := local.NewGroup(workers)
	if err != nil {
		return nil, err
	}
	var res *kmeans.Result
	err = g.Run(ctx, func(ctx context.Context, comm *local.Comm) error {
		r, err := kmeans.NewController(comm, opts...).Run(ctx, load)
		if comm.Rank() == 0 {
			res = r
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Local run finished", slog.Int("workers", workers), slog.Duration("took", time.Since(now)))
	return res, nil
}
