package source

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawngo/kclust/internal/kmeans"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		uri  string
		want Location
		err  bool
	}{
		{uri: "points.txt", want: Location{Scheme: "file", Path: "points.txt"}},
		{uri: "/data/points.txt", want: Location{Scheme: "file", Path: "/data/points.txt"}},
		{uri: "file:///data/points.txt", want: Location{Scheme: "file", Path: "/data/points.txt"}},
		{uri: "-", want: Location{Scheme: "stdin"}},
		{uri: "s3://bucket/dir/points.txt", want: Location{Scheme: "s3", Bucket: "bucket", Key: "dir/points.txt"}},
		{uri: "minio://bucket/points.txt", want: Location{Scheme: "minio", Bucket: "bucket", Key: "points.txt"}},
		{uri: "s3://bucket", err: true},
		{uri: "ftp://host/points.txt", err: true},
		{uri: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseLocation(tt.uri)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadPoints(t *testing.T) {
	ds, err := ReadPoints(strings.NewReader("1 2 3\n4 5 6\n7 8 9\n"), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []float64{4, 5, 6}, ds.Point(1))

	// Line breaks do not matter, only the value count.
	ds, err = ReadPoints(strings.NewReader("1 2\n3 4 5 6"), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []float64{4, 5, 6}, ds.Point(1))
}

func TestReadPoints_Errors(t *testing.T) {
	_, err := ReadPoints(strings.NewReader("1 2 3\n"), 2, 3)
	assert.ErrorIs(t, err, kmeans.ErrInputRead)
	assert.ErrorContains(t, err, "found 1 of 2 points")

	_, err = ReadPoints(strings.NewReader("1 2 3\n4 x 6\n"), 2, 3)
	assert.ErrorIs(t, err, kmeans.ErrInputRead)
	assert.ErrorContains(t, err, `record 1: value "x"`)

	_, err = ReadPoints(strings.NewReader("1 2 3 4"), 0, 3)
	assert.ErrorIs(t, err, kmeans.ErrInputRead)

	_, err = ReadPoints(strings.NewReader(""), 1, 0)
	assert.ErrorIs(t, err, kmeans.ErrInvalidConfig)
}

func TestGenerate(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Generate(&a, 500, 3, 9))
	require.NoError(t, Generate(&b, 500, 3, 9))
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, 500, strings.Count(a.String(), "\n"))

	ds, err := ReadPoints(&a, 500, 3)
	require.NoError(t, err)
	for i := range ds.Len() {
		for _, v := range ds.Point(i) {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 9.0)
		}
	}
}

func TestOpener_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 1\n2 2\n3 3\n"), 0o600))

	ds, err := Opener{}.TextLoader(path, 3, 2)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	_, err = Opener{}.TextLoader(filepath.Join(t.TempDir(), "missing.txt"), 3, 2)(context.Background())
	assert.ErrorIs(t, err, kmeans.ErrInputRead)
}

type fakeS3 struct {
	objects map[string]string
}

func (f fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestOpener_S3(t *testing.T) {
	o := Opener{S3: fakeS3{objects: map[string]string{"runs/in/points.txt": "0 0\n10 10\n"}}}

	ds, err := o.TextLoader("s3://runs/in/points.txt", 2, 2)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10}, ds.Point(1))

	_, err = o.Open(context.Background(), "s3://runs/in/other.txt")
	assert.ErrorIs(t, err, kmeans.ErrInputRead)
}

func TestOpener_MinIONeedsEndpoint(t *testing.T) {
	_, err := Opener{}.Open(context.Background(), "minio://bucket/points.txt")
	assert.ErrorIs(t, err, kmeans.ErrInputRead)
	assert.ErrorContains(t, err, "endpoint")
}

func TestDecodeImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	src.SetRGBA(1, 0, color.RGBA{G: 255, A: 255})
	src.SetRGBA(0, 1, color.RGBA{B: 255, A: 255})
	src.SetRGBA(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 2, img.Width)
	assert.Equal(t, 2, img.Height)

	ds, err := img.Points()
	require.NoError(t, err)
	require.Equal(t, 4, ds.Len())
	assert.Equal(t, 4, ds.Dim())
	assert.Equal(t, []float64{255, 0, 0, 255}, ds.Point(0))
	assert.Equal(t, []float64{0, 255, 0, 255}, ds.Point(1))
	assert.Equal(t, []float64{10, 20, 30, 255}, ds.Point(3))
}

func TestDecodeImage_NotAnImage(t *testing.T) {
	_, err := DecodeImage(strings.NewReader("1 2 3"))
	assert.ErrorIs(t, err, kmeans.ErrInputRead)
}
