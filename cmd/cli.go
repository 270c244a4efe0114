package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phsym/console-slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mawngo/kclust/internal/config"
	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/output"
	"github.com/mawngo/kclust/internal/telemetry"
)

func Init() *slog.LevelVar {
	level := &slog.LevelVar{}
	logger := slog.New(
		console.NewHandler(os.Stderr, &console.HandlerOptions{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	slog.SetDefault(logger)
	cobra.EnableCommandSorting = false
	return level
}

type CLI struct {
	command *cobra.Command
}

// NewCLI create new CLI instance and set up application config.
func NewCLI() *CLI {
	level := Init()
	cfg := config.Default()
	var configPath string

	command := cobra.Command{
		Use:           "kclust",
		Short:         "Distributed k-means clustering of large point sets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return err
			}
			if debug {
				level.Set(slog.LevelDebug)
			}
			if err := config.Overlay(cmd.Flags(), &cfg, configPath); err != nil {
				return err
			}
			cfg.ApplyEnv()
			return cfg.Validate()
		},
	}

	pf := command.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML file with run parameters, flags take precedence")
	pf.IntVarP(&cfg.NumPoints, "points", "n", cfg.NumPoints, "Number of points to read from the input [0=all]")
	pf.IntVarP(&cfg.NumClusters, "clusters", "k", cfg.NumClusters, "Number of clusters")
	pf.IntVarP(&cfg.Dimensions, "dims", "d", cfg.Dimensions, "Number of coordinates per point")
	pf.IntVarP(&cfg.Iterations, "iterations", "i", cfg.Iterations, "Number of rounds")
	pf.IntVarP(&cfg.NumWorkers, "workers", "w", cfg.NumWorkers, "Number of ranks, coordinator included")
	pf.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for picking the initial centroids")
	pf.StringVar(&cfg.Remainder, "remainder", cfg.Remainder, "What to do with points left over by the even split [drop,last]")
	pf.IntVar(&cfg.KernelConcurrency, "kcpu", cfg.KernelConcurrency, "Goroutines assigning points on each rank [0=auto]")
	pf.StringVar(&cfg.Input, "input", cfg.Input, "Input path or URI [path,-,s3://bucket/key,minio://bucket/key]")
	pf.StringVar(&cfg.InputFormat, "input-format", cfg.InputFormat, "Input format [text,image]")
	pf.StringVarP(&cfg.Output, "out", "o", cfg.Output, "Centroid output file [empty or -=stdout]")
	pf.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Centroid output format [text,json]")
	pf.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address the coordinator listens on")
	pf.StringVar(&cfg.Connect, "connect", cfg.Connect, "Address of the coordinator")
	pf.StringVar(&cfg.Compression, "compression", cfg.Compression, "Payload compression between ranks [none,lz4,zstd]")
	pf.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	pf.Bool("debug", false, "Enable debug mode")
	pf.SortFlags = false

	command.AddCommand(
		newRunCommand(&cfg),
		newCoordinatorCommand(&cfg),
		newWorkerCommand(&cfg),
		newSerialCommand(&cfg),
		newGenerateCommand(&cfg),
		newImageCommand(&cfg),
	)
	return &CLI{&command}
}

// Execute runs the command line and exits with status 1 on failure.
func (cli *CLI) Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.command.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// metrics starts the Prometheus endpoint when configured and returns the
// controller option feeding it.
func metrics(ctx context.Context, cfg *config.Config) ([]kmeans.Option, error) {
	if cfg.MetricsAddr == "" {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	m, err := telemetry.New(reg)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := telemetry.Serve(ctx, cfg.MetricsAddr, reg, slog.Default()); err != nil {
			slog.Error("Metrics server stopped", slog.String("addr", cfg.MetricsAddr), slog.Any("err", err))
		}
	}()
	return []kmeans.Option{kmeans.WithRecorder(m)}, nil
}

func controllerOptions(ctx context.Context, cfg *config.Config) ([]kmeans.Option, error) {
	opts := cfg.Options()
	extra, err := metrics(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return append(opts, extra...), nil
}

func writeResult(cfg *config.Config, res *kmeans.Result) error {
	format, err := output.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}
	if err := output.WriteFile(cfg.Output, res, format); err != nil {
		return fmt.Errorf("write centroids: %w", err)
	}
	if cfg.Output != "" && cfg.Output != "-" {
		slog.Info("Centroids written", slog.String("out", cfg.Output), slog.String("format", string(format)))
	}
	return nil
}
