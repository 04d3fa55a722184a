package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"waterstack/internal/raster"
	"waterstack/internal/registry"
)

// S3Config describes an S3-compatible subset store (AWS S3, MinIO, Garage).
type S3Config struct {
	Bucket          string
	Prefix          string // key prefix for this ROI's subsets
	Region          string
	Endpoint        string // optional custom endpoint
	AccessKeyID     string // optional; default credential chain when empty
	SecretAccessKey string
	TempDir         string // downloaded subsets are cached here
}

// S3Client is the subset of the S3 API the retriever uses, injectable for
// tests.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 retrieves subsets from an object store, caching downloads on disk so
// repeated calls for the same key do not refetch.
type S3 struct {
	client   S3Client
	cfg      S3Config
	registry *registry.Registry
}

// NewS3 builds an S3 retriever from configuration.
func NewS3(ctx context.Context, cfg S3Config, reg *registry.Registry) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "waterstack-subsets")
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, cfg: cfg, registry: reg}, nil
}

// NewS3WithClient builds an S3 retriever around an existing client.
func NewS3WithClient(client S3Client, cfg S3Config, reg *registry.Registry) (*S3, error) {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "waterstack-subsets")
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	return &S3{client: client, cfg: cfg, registry: reg}, nil
}

func (r *S3) GetSubset(ctx context.Context, variable string, date time.Time) (g *raster.Grid, err error) {
	start := time.Now()
	defer func() { observe(variable, start, err) }()

	src := r.registry.Lookup(variable, date)
	if src == nil {
		return nil, fmt.Errorf("no %s source for %s: %w", variable, date.Format("2006-01-02"), ErrFileUnavailable)
	}

	filename := SubsetFilename(src, date)
	cached := filepath.Join(r.cfg.TempDir, filename)

	if _, statErr := os.Stat(cached); statErr != nil {
		if err := r.download(ctx, filename, cached); err != nil {
			return nil, err
		}
	}

	grid, err := raster.ReadGridFile(cached)
	if err != nil {
		// A corrupted cache entry is removed so the next attempt refetches.
		log.Printf("retriever: removing corrupted cached subset %s: %v", cached, err)
		os.Remove(cached)
		return nil, fmt.Errorf("read cached subset %s: %w", filename, err)
	}

	return checkGrid(grid, filename)
}

func (r *S3) download(ctx context.Context, filename, dest string) error {
	key := r.key(filename)

	var body []byte
	operation := func() error {
		out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return backoff.Permanent(fmt.Errorf("s3 key %s: %w", key, ErrFileUnavailable))
			}
			return fmt.Errorf("get object %s: %w", key, err)
		}
		defer out.Body.Close()

		body, err = io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("read object %s: %w", key, err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	tmp := dest + ".partial"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return fmt.Errorf("write cached subset: %w", err)
	}
	return os.Rename(tmp, dest)
}

func (r *S3) key(filename string) string {
	if r.cfg.Prefix == "" {
		return filename
	}
	return r.cfg.Prefix + "/" + filename
}

func (r *S3) Inventory(ctx context.Context) ([]time.Time, error) {
	var raw []time.Time
	var continuation *string

	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.cfg.Bucket),
			Prefix:            aws.String(r.cfg.Prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", r.cfg.Bucket, err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			if d, ok := parseSubsetDate(*obj.Key); ok {
				raw = append(raw, d)
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	return relevantDates(r.registry, raw), nil
}
