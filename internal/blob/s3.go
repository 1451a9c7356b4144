package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hyperjump/kagami/internal/config"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads objects from an S3 bucket.
type S3Store struct {
	client   S3API
	bucket   string
	region   string
	prefix   string
	maxBytes int64
}

// NewS3Store creates a store for bucket in region. prefix is prepended to all keys.
func NewS3Store(client S3API, bucket, region, prefix string, maxBytes int64) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   bucket,
		region:   region,
		prefix:   prefix,
		maxBytes: maxBytes,
	}
}

// NewS3Client loads the default AWS configuration for the configured region. Static
// credentials from the config take precedence over the default chain.
func NewS3Client(ctx context.Context, cfg config.BlobConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Get downloads the object at key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	fullKey, err := joinKey(s.prefix, key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, fullKey, ErrNotFound)
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, fullKey, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", fullKey, err)
	}
	defer out.Body.Close()

	data, err := readLimited(out.Body, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", fullKey, err)
	}
	return data, nil
}

// URL returns the virtual-hosted style URL of key.
func (s *S3Store) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, urlKey(s.prefix, key))
}
