package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mawngo/kclust/internal/config"
	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/transport/tcp"
)

func newCoordinatorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Run rank 0: load the input, wait for the workers and drive the rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts, err := controllerOptions(ctx, cfg)
			if err != nil {
				return err
			}
			coord, err := tcp.Listen(ctx, cfg.Listen, cfg.NumWorkers,
				append(cfg.TransportOptions(), tcp.WithLogger(slog.Default()))...)
			if err != nil {
				return err
			}
			defer coord.Close()

			res, err := kmeans.NewController(coord, opts...).Run(ctx, cfg.Loader())
			if err != nil {
				return err
			}
			return writeResult(cfg, res)
		},
	}
}

func newWorkerCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Join a coordinator and process the shard it sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts, err := controllerOptions(ctx, cfg)
			if err != nil {
				return err
			}
			w, err := tcp.Dial(ctx, cfg.Connect, tcp.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer w.Close()

			res, err := kmeans.NewController(w, opts...).Run(ctx, nil)
			if err != nil {
				return err
			}
			slog.Info("Worker completed",
				slog.Int("rank", res.Rank),
				slog.String("run", res.RunID),
				slog.Int("rounds", res.Rounds))
			return nil
		},
	}
}
