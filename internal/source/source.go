// Package source opens point inputs and turns them into datasets.
//
// An input is named by a URI: a plain path or file:// URL, "-" for stdin,
// s3://bucket/key read through the AWS default credential chain, or
// minio://bucket/key read from the configured MinIO endpoint.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mawngo/kclust/internal/kmeans"
)

// MinIO holds the endpoint used for minio:// inputs.
type MinIO struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// S3API is the subset of the S3 client used to fetch inputs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener opens inputs by URI.
type Opener struct {
	MinIO MinIO
	// S3 overrides the client built from the default AWS config.
	S3 S3API
}

// Location is a parsed input URI.
type Location struct {
	Scheme string
	Bucket string
	Key    string
	Path   string
}

// ParseLocation splits an input URI into its parts.
func ParseLocation(uri string) (Location, error) {
	if uri == "" {
		return Location{}, errors.New("empty input")
	}
	if uri == "-" {
		return Location{Scheme: "stdin"}, nil
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: "file", Path: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, err
	}
	switch u.Scheme {
	case "file":
		return Location{Scheme: "file", Path: u.Host + u.Path}, nil
	case "s3", "minio":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("%s: expected %s://bucket/key", uri, u.Scheme)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("%s: unsupported scheme %q", uri, u.Scheme)
	}
}

// Open returns a reader for uri. Failures match kmeans.ErrInputRead.
func (o Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kmeans.ErrInputRead, err)
	}
	var rc io.ReadCloser
	switch loc.Scheme {
	case "stdin":
		rc = io.NopCloser(os.Stdin)
	case "file":
		rc, err = os.Open(loc.Path)
	case "s3":
		rc, err = o.openS3(ctx, loc)
	case "minio":
		rc, err = o.openMinIO(ctx, loc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", kmeans.ErrInputRead, uri, err)
	}
	return rc, nil
}

func (o Opener) openS3(ctx context.Context, loc Location) (io.ReadCloser, error) {
	client := o.S3
	if client == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		client = s3.NewFromConfig(cfg)
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (o Opener) openMinIO(ctx context.Context, loc Location) (io.ReadCloser, error) {
	if o.MinIO.Endpoint == "" {
		return nil, errors.New("minio endpoint not configured")
	}
	client, err := minio.New(o.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.MinIO.AccessKey, o.MinIO.SecretKey, ""),
		Secure: o.MinIO.Secure,
	})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy, stat first so a missing object fails here.
	if _, err := client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{}); err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// TextLoader returns a loader reading n records of dim values from uri.
func (o Opener) TextLoader(uri string, n, dim int) kmeans.Loader {
	return func(ctx context.Context) (kmeans.Dataset, error) {
		rc, err := o.Open(ctx, uri)
		if err != nil {
			return kmeans.Dataset{}, err
		}
		defer rc.Close()
		return ReadPoints(rc, n, dim)
	}
}

// ImageLoader returns a loader decoding the image at uri into RGBA points.
func (o Opener) ImageLoader(uri string) kmeans.Loader {
	return func(ctx context.Context) (kmeans.Dataset, error) {
		rc, err := o.Open(ctx, uri)
		if err != nil {
			return kmeans.Dataset{}, err
		}
		defer rc.Close()
		img, err := DecodeImage(rc)
		if err != nil {
			return kmeans.Dataset{}, err
		}
		return img.Points()
	}
}
