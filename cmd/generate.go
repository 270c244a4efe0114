package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mawngo/kclust/internal/config"
	"github.com/mawngo/kclust/internal/source"
)

func newGenerateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [file]",
		Short: "Write random points uniformly drawn from [0, 9) in the text input format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) (err error) {
			now := time.Now()
			path := cfg.Input
			if len(args) > 0 {
				path = args[0]
			}
			o, err := os.Create(path)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := o.Close(); err == nil {
					err = cerr
				}
			}()
			if err := source.Generate(o, cfg.NumPoints, cfg.Dimensions, cfg.Seed); err != nil {
				return err
			}
			slog.Info("Points saved",
				slog.String("out", path),
				slog.Int("points", cfg.NumPoints),
				slog.Int("dim", cfg.Dimensions),
				slog.Duration("took", time.Since(now)))
			return nil
		},
	}
}
