package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mawngo/kclust/internal/config"
	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/serial"
)

func newSerialCommand(cfg *config.Config) *cobra.Command {
	var baseline bool
	command := &cobra.Command{
		Use:   "serial",
		Short: "Cluster in a single goroutine, for checking the distributed result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			ds, err := cfg.Loader()(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("Initialized",
				slog.Int("points", ds.Len()),
				slog.Int("dim", ds.Dim()),
				slog.Duration("took", time.Since(now)))

			now = time.Now()
			sr, err := serial.Train(ds, cfg.NumClusters, cfg.Iterations, cfg.Seed)
			if err != nil {
				return err
			}
			slog.Info("Clustering completed",
				slog.Int("rounds", cfg.Iterations),
				slog.Float64("objective", sr.Objective()),
				slog.Duration("took", time.Since(now)))

			if baseline {
				now = time.Now()
				br, err := serial.Baseline(ds, cfg.NumClusters)
				if err != nil {
					return err
				}
				slog.Info("Baseline completed",
					slog.Float64("objective", br.Objective()),
					slog.Float64("ratio", ratio(sr.Objective(), br.Objective())),
					slog.Duration("took", time.Since(now)))
			}

			res := &kmeans.Result{Centroids: sr.Centroids, Rounds: cfg.Iterations}
			for i, obj := range sr.Objectives {
				res.History = append(res.History, kmeans.RoundStats{Round: i + 1, Objective: obj})
			}
			if n := len(res.History); n > 0 {
				res.History[n-1].Counts = sr.Counts
			}
			return writeResult(cfg, res)
		},
	}
	command.Flags().BoolVar(&baseline, "baseline", baseline, "Also cluster with github.com/muesli/kmeans and compare objectives")
	return command
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
