package archivestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/rs/zerolog"
)

// ====================================================================================
// AWS S3 backend: request builder and client adapter.
// ====================================================================================

// s3ArchivalStorageClasses are asynchronous-retrieval-only tiers. The archive
// access pattern (frequent writes, reads during rehydration) cannot tolerate
// their retrieval latency, so they are rejected when the sink is built rather
// than failing every rehydration later.
var s3ArchivalStorageClasses = map[string]struct{}{
	"GLACIER":      {},
	"DEEP_ARCHIVE": {},
}

var s3StorageClasses = map[string]struct{}{
	"STANDARD":            {},
	"REDUCED_REDUNDANCY":  {},
	"INTELLIGENT_TIERING": {},
	"STANDARD_IA":         {},
	"ONEZONE_IA":          {},
	"GLACIER":             {},
	"DEEP_ARCHIVE":        {},
}

// validateS3StorageClass gates the configured class at construction time.
// An empty class means the bucket default and always passes.
func validateS3StorageClass(class string) error {
	if class == "" {
		return nil
	}
	if _, archival := s3ArchivalStorageClasses[class]; archival {
		return &UnsupportedStorageClassError{StorageClass: class}
	}
	if _, known := s3StorageClasses[class]; !known {
		return &UnsupportedStorageClassError{StorageClass: class}
	}
	return nil
}

// S3RequestBuilder builds S3 write requests. S3 objects carry no explicit
// content type; the object options (ACL, grants, encryption, storage class,
// tags) are fixed per sink and applied by the client on every put.
type S3RequestBuilder struct {
	keyPrefix string
}

// NewS3RequestBuilder creates a builder prepending keyPrefix to every object key.
func NewS3RequestBuilder(keyPrefix string) *S3RequestBuilder {
	return &S3RequestBuilder{keyPrefix: keyPrefix}
}

func (rb *S3RequestBuilder) Split(batch *Batch) (RequestMetadata, []*archive.Record) {
	return splitBatch(batch)
}

func (rb *S3RequestBuilder) Build(meta RequestMetadata, payload []byte) *Request {
	return finalizeRequest(GenerateObjectKey(rb.keyPrefix, meta.PartitionKey), meta, payload)
}

// S3Client writes archive objects to one S3 bucket through the AWS SDK,
// carrying the sink's object options on every put.
type S3Client struct {
	client  *s3.Client
	bucket  string
	options S3BackendConfig
	tagging *string
	logger  zerolog.Logger
}

// NewS3Client loads the AWS configuration for the configured region and
// builds the backend client. SDK-internal retries are disabled; the
// Dispatcher owns the retry policy.
func NewS3Client(ctx context.Context, bucket string, cfg *S3BackendConfig, logger zerolog.Logger) (*S3Client, error) {
	if bucket == "" {
		return nil, errors.New("S3 bucket name is required")
	}
	if cfg == nil {
		return nil, errors.New("S3 backend options cannot be nil")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	var tagging *string
	if len(cfg.Tags) > 0 {
		values := url.Values{}
		for key, value := range cfg.Tags {
			values.Set(key, value)
		}
		tagging = aws.String(values.Encode())
	}

	return &S3Client{
		client:  client,
		bucket:  bucket,
		options: *cfg,
		tagging: tagging,
		logger:  logger.With().Str("component", "S3Client").Logger(),
	}, nil
}

func (c *S3Client) PutObject(ctx context.Context, req *Request) error {
	input := &s3.PutObjectInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(req.Key),
		Body:            bytes.NewReader(req.Body),
		ContentLength:   aws.Int64(int64(len(req.Body))),
		ContentEncoding: aws.String(req.ContentEncoding),
		Tagging:         c.tagging,
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if c.options.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(c.options.ACL)
	}
	if c.options.GrantFullControl != "" {
		input.GrantFullControl = aws.String(c.options.GrantFullControl)
	}
	if c.options.GrantRead != "" {
		input.GrantRead = aws.String(c.options.GrantRead)
	}
	if c.options.GrantReadACP != "" {
		input.GrantReadACP = aws.String(c.options.GrantReadACP)
	}
	if c.options.GrantWriteACP != "" {
		input.GrantWriteACP = aws.String(c.options.GrantWriteACP)
	}
	if c.options.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(c.options.ServerSideEncryption)
	}
	if c.options.SSEKMSKeyID != "" {
		input.SSEKMSKeyId = aws.String(c.options.SSEKMSKeyID)
	}
	if c.options.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(c.options.StorageClass)
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put S3 object %s: %w", req.Key, err)
	}
	return nil
}

// Retryable classifies S3 failures: server-side and throttling responses plus
// plain network errors are retryable, other client errors are not.
func (c *S3Client) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return retryableStatus(respErr.HTTPStatusCode())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	// No classified response means the request never completed; treat it as
	// a network failure.
	return true
}

// Healthcheck issues a HeadBucket probe against the configured bucket.
func (c *S3Client) Healthcheck(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("S3 bucket %q is not accessible: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources needing release.
func (c *S3Client) Close() error {
	return nil
}
