// Package s3 reads transcripts stored in S3 or an S3-compatible store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/metrics"
	"github.com/lsfs/lsfs/pkg/retry"
)

// ErrNoSuchObject is returned when the bucket or key does not exist.
var ErrNoSuchObject = errors.New("no such object")

// BackendConfig selects and authenticates against an S3 endpoint. Empty
// fields fall back to the AWS SDK's default chain (environment, shared
// config, instance role).
type BackendConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// ObjectAPI is the part of the S3 client the backend uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Backend fetches objects with retries on transient failures.
type Backend struct {
	client ObjectAPI
	retry  retry.Config
}

// NewBackend creates a backend from cfg.
func NewBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewBackendWithClient(client, retry.DefaultConfig()), nil
}

// NewBackendWithClient wraps an existing client.
func NewBackendWithClient(client ObjectAPI, rc retry.Config) *Backend {
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, wait time.Duration, err error) {
			logging.Warn("s3 request failed, retrying",
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
				logging.Err(err))
		}
	}
	return &Backend{client: client, retry: rc}
}

type object struct {
	body io.ReadCloser
	size int64
}

// GetObject opens bucket/key. The caller closes the returned body.
func (b *Backend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := retry.DoWithResult(ctx, b.retry, func() (object, error) {
		start := time.Now()
		result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			metrics.RecordS3Operation("get_object", time.Since(start), false)
			return object{}, classify(err)
		}
		metrics.RecordS3Operation("get_object", time.Since(start), true)

		size := int64(-1)
		if result.ContentLength != nil {
			size = *result.ContentLength
		}
		return object{body: result.Body, size: size}, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}

	logging.Debug("opened s3 object",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int64("size", obj.size))
	return obj.body, obj.size, nil
}

// classify maps missing objects to ErrNoSuchObject and marks throttling,
// server errors and transport failures as retryable.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %s", ErrNoSuchObject, apiErr.ErrorMessage())
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return retry.Retryable(err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() >= http.StatusInternalServerError {
			return retry.Retryable(err)
		}
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// No HTTP response at all: connection refused, reset, DNS.
	return retry.Retryable(err)
}
