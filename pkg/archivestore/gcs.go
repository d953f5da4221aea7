package archivestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ====================================================================================
// Google Cloud Storage backend: request builder and client adapter.
// ====================================================================================

// Object options travel on the request as the x-goog-* header family; the
// client translates them onto the object writer.
const (
	gcsACLHeader            = "x-goog-acl"
	gcsStorageClassHeader   = "x-goog-storage-class"
	gcsMetadataHeaderPrefix = "x-goog-meta-"
)

// GCSRequestBuilder builds Cloud Storage write requests.
type GCSRequestBuilder struct {
	keyPrefix string
	headers   map[string]string
}

// NewGCSRequestBuilder creates a builder prepending keyPrefix to every object
// key and stamping the configured ACL, storage class, and custom metadata on
// every request.
func NewGCSRequestBuilder(keyPrefix string, cfg *GCSBackendConfig) *GCSRequestBuilder {
	headers := make(map[string]string)
	if cfg != nil {
		if cfg.ACL != "" {
			headers[gcsACLHeader] = cfg.ACL
		}
		if cfg.StorageClass != "" {
			headers[gcsStorageClassHeader] = cfg.StorageClass
		}
		for key, value := range cfg.Metadata {
			headers[gcsMetadataHeaderPrefix+key] = value
		}
	}
	return &GCSRequestBuilder{keyPrefix: keyPrefix, headers: headers}
}

func (rb *GCSRequestBuilder) Split(batch *Batch) (RequestMetadata, []*archive.Record) {
	return splitBatch(batch)
}

func (rb *GCSRequestBuilder) Build(meta RequestMetadata, payload []byte) *Request {
	req := finalizeRequest(GenerateObjectKey(rb.keyPrefix, meta.PartitionKey), meta, payload)
	req.ContentType = archive.ContentType
	req.Headers = rb.headers
	return req
}

// GCSStorageClient writes archive objects into one Cloud Storage bucket
// through the abstracted client, so unit tests can substitute a fake.
type GCSStorageClient struct {
	client GCSClient
	bucket string
	logger zerolog.Logger
}

// NewGCSStorageClient creates the backend client over an abstracted GCS client.
func NewGCSStorageClient(client GCSClient, bucket string, logger zerolog.Logger) (*GCSStorageClient, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSStorageClient{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "GCSStorageClient").Logger(),
	}, nil
}

// newGoogleStorageClient builds the concrete SDK client for BuildSink,
// honoring an explicit credentials file when one is configured.
func newGoogleStorageClient(ctx context.Context, cfg *GCSBackendConfig) (*storage.Client, error) {
	var opts []option.ClientOption
	if cfg != nil && cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return client, nil
}

func (c *GCSStorageClient) PutObject(ctx context.Context, req *Request) error {
	opts := GCSWriterOptions{
		ContentType:     req.ContentType,
		ContentEncoding: req.ContentEncoding,
	}
	for name, value := range req.Headers {
		switch {
		case name == gcsACLHeader:
			opts.PredefinedACL = value
		case name == gcsStorageClassHeader:
			opts.StorageClass = value
		case strings.HasPrefix(name, gcsMetadataHeaderPrefix):
			if opts.Metadata == nil {
				opts.Metadata = make(map[string]string)
			}
			opts.Metadata[strings.TrimPrefix(name, gcsMetadataHeaderPrefix)] = value
		}
	}

	writer := c.client.Bucket(c.bucket).Object(req.Key).NewWriter(ctx, opts)
	if _, err := writer.Write(req.Body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write GCS object %s: %w", req.Key, err)
	}
	// The object only becomes visible on a successful Close.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to commit GCS object %s: %w", req.Key, err)
	}
	return nil
}

// Retryable classifies Cloud Storage failures by response status; transport
// errors without a response count as network failures and are retried.
func (c *GCSStorageClient) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, storage.ErrBucketNotExist) || errors.Is(err, storage.ErrObjectNotExist) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	return true
}

// Healthcheck probes the bucket's attributes.
func (c *GCSStorageClient) Healthcheck(ctx context.Context) error {
	if err := c.client.Bucket(c.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("GCS bucket %q is not accessible: %w", c.bucket, err)
	}
	return nil
}

// Close releases the underlying SDK client.
func (c *GCSStorageClient) Close() error {
	return c.client.Close()
}
