// Package config holds the run parameters shared by every command.
//
// Values come from Default, then an optional YAML file, then command line
// flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/output"
	"github.com/mawngo/kclust/internal/source"
	"github.com/mawngo/kclust/internal/transport/tcp"
)

// Input formats.
const (
	InputText  = "text"
	InputImage = "image"
)

type Config struct {
	NumPoints   int    `yaml:"num_points"`
	NumClusters int    `yaml:"num_clusters"`
	Dimensions  int    `yaml:"dimensions"`
	Iterations  int    `yaml:"iterations"`
	NumWorkers  int    `yaml:"num_workers"`
	Seed        int64  `yaml:"seed"`
	Remainder   string `yaml:"remainder"`

	// KernelConcurrency is the number of goroutines assigning points on each
	// rank, 0 means one per CPU.
	KernelConcurrency int `yaml:"kernel_concurrency"`

	Input        string `yaml:"input"`
	InputFormat  string `yaml:"input_format"`
	Output       string `yaml:"output"`
	OutputFormat string `yaml:"output_format"`

	Listen      string `yaml:"listen"`
	Connect     string `yaml:"connect"`
	Compression string `yaml:"compression"`
	MetricsAddr string `yaml:"metrics_addr"`

	MinIO source.MinIO `yaml:"minio"`
}

// Default returns the reference parameters: ten million 3-dimensional points
// in 50 clusters over 16 rounds.
func Default() Config {
	return Config{
		NumPoints:    10_000_000,
		NumClusters:  50,
		Dimensions:   3,
		Iterations:   16,
		NumWorkers:   max(1, min(4, runtime.NumCPU())),
		Remainder:    kmeans.RemainderDrop.String(),
		Input:        "points.txt",
		InputFormat:  InputText,
		OutputFormat: string(output.FormatText),
		Listen:       ":7070",
		Connect:      "127.0.0.1:7070",
		Compression:  tcp.CompressionNone.String(),
	}
}

// Decode overlays the YAML document read from r onto c. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", kmeans.ErrInvalidConfig, err)
	}
	return nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", kmeans.ErrInvalidConfig, err)
	}
	defer f.Close()
	if err := c.Decode(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ApplyEnv fills MinIO settings left empty from MINIO_ENDPOINT,
// MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	set(&c.MinIO.Endpoint, "MINIO_ENDPOINT")
	set(&c.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	set(&c.MinIO.SecretKey, "MINIO_SECRET_KEY")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.NumPoints >= 0, "num_points must not be negative, got %d", c.NumPoints)
	check(c.NumClusters >= 1, "num_clusters must be at least 1, got %d", c.NumClusters)
	check(c.Dimensions >= 1, "dimensions must be at least 1, got %d", c.Dimensions)
	check(c.Iterations >= 0, "iterations must not be negative, got %d", c.Iterations)
	check(c.NumWorkers >= 1, "num_workers must be at least 1, got %d", c.NumWorkers)
	check(c.KernelConcurrency >= 0, "kernel_concurrency must not be negative, got %d", c.KernelConcurrency)
	check(c.NumPoints == 0 || c.NumPoints >= c.NumClusters,
		"num_points (%d) must be at least num_clusters (%d)", c.NumPoints, c.NumClusters)
	check(c.InputFormat == InputText || c.InputFormat == InputImage,
		"input_format must be %q or %q, got %q", InputText, InputImage, c.InputFormat)
	if _, err := kmeans.ParseRemainderPolicy(c.Remainder); err != nil {
		errs = append(errs, err)
	}
	if _, err := tcp.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := output.ParseFormat(c.OutputFormat); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", kmeans.ErrInvalidConfig, errors.Join(errs...))
}

// Options converts the run parameters to controller options. c must be valid.
func (c *Config) Options() []kmeans.Option {
	remainder, _ := kmeans.ParseRemainderPolicy(c.Remainder)
	opts := []kmeans.Option{
		kmeans.WithClusters(c.NumClusters),
		kmeans.WithIterations(c.Iterations),
		kmeans.WithSeed(c.Seed),
		kmeans.WithRemainder(remainder),
	}
	if c.KernelConcurrency > 0 {
		opts = append(opts, kmeans.WithKernelConcurrency(c.KernelConcurrency))
	}
	return opts
}

// TransportOptions returns the TCP transport settings. c must be valid.
func (c *Config) TransportOptions() []tcp.Option {
	compression, _ := tcp.ParseCompression(c.Compression)
	return []tcp.Option{tcp.WithCompression(compression)}
}

// Opener returns the input opener configured with the MinIO settings.
func (c *Config) Opener() source.Opener {
	return source.Opener{MinIO: c.MinIO}
}

// Loader returns the loader for the configured input.
func (c *Config) Loader() kmeans.Loader {
	if c.InputFormat == InputImage {
		return c.Opener().ImageLoader(c.Input)
	}
	return c.Opener().TextLoader(c.Input, c.NumPoints, c.Dimensions)
}

// Overlay loads the YAML file at path into c, keeping the values of the flags
// of fs that were set on the command line. Flags must be bound to fields of c.
func Overlay(fs *pflag.FlagSet, c *Config, path string) error {
	if path == "" {
		return nil
	}
	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := c.LoadFile(path); err != nil {
		return err
	}
	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("%w: flag --%s: %w", kmeans.ErrInvalidConfig, name, err)
		}
	}
	return nil
}
