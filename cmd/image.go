package cmd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mawngo/kclust/internal/config"
	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/source"
)

type imageFlags struct {
	Dir         string
	Overwrite   bool
	Concurrency int
	JPEG        int
	Palette     bool
}

func newImageCommand(cfg *config.Config) *cobra.Command {
	f := imageFlags{
		Dir:         ".",
		Concurrency: 1,
	}
	command := &cobra.Command{
		Use:   "image [files...]",
		Short: "Reduce the colors of images to --clusters colors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if _, err := os.Stat(f.Dir); err != nil {
				if err := os.MkdirAll(f.Dir, os.ModePerm); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			f.Concurrency = max(1, f.Concurrency)

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				failed int
			)
			con := make(chan struct{}, f.Concurrency)
			for _, arg := range args {
				for img := range scan(cmd.Context(), cfg.Opener(), arg) {
					con <- struct{}{}
					wg.Add(1)
					go func() {
						defer func() {
							<-con
							wg.Done()
						}()
						if err := handleImg(cmd.Context(), img, cfg, f); err != nil {
							slog.Error("Error processing image", slog.String("img", img.Basename), slog.Any("err", err))
							mu.Lock()
							failed++
							mu.Unlock()
						}
					}()
				}
			}
			wg.Wait()
			slog.Info("Processing completed", slog.Duration("took", time.Since(now)))
			if failed > 0 {
				return fmt.Errorf("%d image(s) failed", failed)
			}
			return nil
		},
	}
	command.Flags().StringVar(&f.Dir, "dir", f.Dir, "Output directory name")
	command.Flags().BoolVar(&f.Overwrite, "overwrite", f.Overwrite, "Overwrite output if exists")
	command.Flags().IntVarP(&f.Concurrency, "concurrency", "t", f.Concurrency, "Maximum number image process at a time")
	command.Flags().IntVar(&f.JPEG, "jpeg", f.JPEG, "Specify quality of output jpeg compression [0-100] (default 0 - output png)")
	command.Flags().BoolVar(&f.Palette, "palette", f.Palette, "Generate an additional palette image")
	command.Flags().SortFlags = false
	return command
}

type namedImage struct {
	source.Image
	Path     string
	Basename string
}

func handleImg(ctx context.Context, img namedImage, cfg *config.Config, f imageFlags) error {
	slog.Info("Processing",
		slog.Int("colors", cfg.NumClusters),
		slog.Int("round", cfg.Iterations),
		slog.String("img", img.Basename),
		slog.String("dimension", fmt.Sprintf("%dx%d", img.Width, img.Height)),
		slog.String("format", img.Format),
	)

	outExt := ".png"
	if f.JPEG > 0 {
		outExt = ".jpeg"
	}
	name := strings.TrimSuffix(img.Basename, filepath.Ext(img.Basename)) +
		".kc" + strconv.Itoa(cfg.Iterations) + "n" + strconv.Itoa(cfg.NumClusters) + outExt
	outfile := filepath.Join(f.Dir, name)
	if stats, err := os.Stat(outfile); err == nil {
		slog.Info("File existed",
			slog.Any("path", outfile),
			slog.Bool("isDir", stats.IsDir()),
			slog.Bool("overwrite", f.Overwrite),
		)
		if !f.Overwrite || stats.IsDir() {
			return nil
		}
	}

	now := time.Now()
	ds, err := img.Points()
	if err != nil {
		return err
	}
	load := func(context.Context) (kmeans.Dataset, error) { return ds, nil }
	res, err := runLocal(ctx, cfg.NumWorkers, load, cfg.Options()...)
	if err != nil {
		return err
	}

	shards, err := kmeans.Partition(ds, 1, kmeans.RemainderDrop)
	if err != nil {
		return err
	}
	concurrency := cfg.KernelConcurrency
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}
	guesses, err := kmeans.Assign(shards[0], res.Centroids, nil, concurrency)
	if err != nil {
		return err
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for index, number := range guesses {
		c := res.Centroids.At(int(number))
		rgba.SetRGBA(index%b.Dx(), index/b.Dx(), rgbaOf(c))
	}
	if err := writeImage(outfile, rgba, f.JPEG); err != nil {
		return err
	}
	if f.Palette {
		if err := genPalette(res.Centroids, outfile); err != nil {
			return err
		}
	}
	slog.Info("Compress completed",
		slog.String("out", outfile),
		slog.Duration("took", time.Since(now)),
		slog.Float64("objective", res.Objective()))
	return nil
}

func writeImage(path string, img image.Image, quality int) (err error) {
	o, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := o.Close(); err == nil {
			err = cerr
		}
	}()
	if quality == 0 {
		return png.Encode(o, img)
	}
	return jpeg.Encode(o, img, &jpeg.Options{Quality: quality})
}

func genPalette(centroids kmeans.Centroids, originalOutFile string) error {
	filename := strings.TrimSuffix(originalOutFile, filepath.Ext(originalOutFile)) + ".palette.png"
	k := centroids.K()

	swatchWidth := 400
	if k > 1 {
		swatchWidth = 200 - min(7*k-2, 140)
	}

	width := swatchWidth * k
	height := int(float64(width) / math.Phi)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range k {
		c := rgbaOf(centroids.At(i))
		for y := 0; y < height; y++ {
			for x := i * swatchWidth; x < (i+1)*swatchWidth; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}
	return writeImage(filename, img, 0)
}

func rgbaOf(c []float64) color.RGBA {
	return color.RGBA{R: round(c[0]), G: round(c[1]), B: round(c[2]), A: round(c[3])}
}

func round(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, f))))
}

// scan yields the images named by arg: a single file or URI, or every
// decodable file of a local directory.
func scan(ctx context.Context, opener source.Opener, arg string) <-chan namedImage {
	ch := make(chan namedImage, 1)
	go func() {
		defer close(ch)
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			img, err := decode(ctx, opener, arg)
			if err != nil {
				slog.Error("Err decoding image", slog.String("path", arg), slog.Any("err", err))
				return
			}
			ch <- img
			return
		}

		files, err := os.ReadDir(arg)
		if err != nil {
			slog.Error("Err scanning dir", slog.String("path", arg), slog.Any("err", err))
			return
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			path := filepath.Join(arg, file.Name())
			img, err := decode(ctx, opener, path)
			if err != nil {
				slog.Debug("Not an image", slog.String("path", path), slog.Any("err", err))
				continue
			}
			ch <- img
		}
	}()
	return ch
}

func decode(ctx context.Context, opener source.Opener, path string) (namedImage, error) {
	img := namedImage{Path: path, Basename: filepath.Base(path)}
	rc, err := opener.Open(ctx, path)
	if err != nil {
		return img, err
	}
	defer rc.Close()

	slog.Debug("Decoding image", slog.String("path", path))
	img.Image, err = source.DecodeImage(rc)
	return img, err
}
