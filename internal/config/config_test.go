package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawngo/kclust/internal/kmeans"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 10_000_000, c.NumPoints)
	assert.Equal(t, 50, c.NumClusters)
	assert.Equal(t, 3, c.Dimensions)
	assert.Equal(t, 16, c.Iterations)
	assert.Len(t, c.Options(), 4)
}

func TestDecode(t *testing.T) {
	c := Default()
	err := c.Decode(strings.NewReader(`
num_points: 1000
num_clusters: 8
remainder: last
compression: zstd
minio:
  endpoint: localhost:9000
  secure: true
`))
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, 1000, c.NumPoints)
	assert.Equal(t, 8, c.NumClusters)
	assert.Equal(t, 3, c.Dimensions, "unset keys keep their default")
	assert.Equal(t, "last", c.Remainder)
	assert.Equal(t, "localhost:9000", c.MinIO.Endpoint)
	assert.True(t, c.MinIO.Secure)
	assert.Len(t, c.TransportOptions(), 1)
}

func TestDecode_UnknownKey(t *testing.T) {
	c := Default()
	err := c.Decode(strings.NewReader("num_cluster: 8\n"))
	assert.ErrorIs(t, err, kmeans.ErrInvalidConfig)
}

func TestDecode_Empty(t *testing.T) {
	c := Default()
	require.NoError(t, c.Decode(strings.NewReader("")))
	assert.Equal(t, Default(), c)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.NumClusters = 0
	c.NumWorkers = 0
	c.Remainder = "spread"
	c.Compression = "gzip"
	c.OutputFormat = "csv"
	c.InputFormat = "parquet"

	err := c.Validate()
	require.ErrorIs(t, err, kmeans.ErrInvalidConfig)
	for _, field := range []string{"num_clusters", "num_workers", "spread", "gzip", "csv", "parquet"} {
		assert.ErrorContains(t, err, field)
	}

	c = Default()
	c.NumPoints = 10
	c.NumClusters = 11
	assert.ErrorIs(t, c.Validate(), kmeans.ErrInvalidConfig)
}

func TestOverlay_FlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kclust.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_clusters: 8\niterations: 4\n"), 0o600))

	c := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVar(&c.NumClusters, "clusters", c.NumClusters, "")
	fs.IntVar(&c.Iterations, "iterations", c.Iterations, "")
	require.NoError(t, fs.Parse([]string{"--iterations=9"}))

	require.NoError(t, Overlay(fs, &c, path))
	assert.Equal(t, 8, c.NumClusters, "from file")
	assert.Equal(t, 9, c.Iterations, "flag overrides file")
}

func TestOverlay_MissingFile(t *testing.T) {
	c := Default()
	err := Overlay(pflag.NewFlagSet("test", pflag.ContinueOnError), &c, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, kmeans.ErrInvalidConfig)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "key")
	c := Default()
	c.MinIO.AccessKey = "configured"
	c.ApplyEnv()
	assert.Equal(t, "minio:9000", c.MinIO.Endpoint)
	assert.Equal(t, "configured", c.MinIO.AccessKey)
}
