package archivestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/rs/zerolog"
)

// ====================================================================================
// Azure Blob Storage backend: request builder and client adapter.
// ====================================================================================

// azureContentType is the content type stamped on archive blobs. Unlike the
// other backends the blob advertises the compressed representation itself.
const azureContentType = "application/gzip"

// AzureRequestBuilder builds Azure Blob write requests.
type AzureRequestBuilder struct {
	blobPrefix string
}

// NewAzureRequestBuilder creates a builder prepending blobPrefix to every blob name.
func NewAzureRequestBuilder(blobPrefix string) *AzureRequestBuilder {
	return &AzureRequestBuilder{blobPrefix: blobPrefix}
}

func (rb *AzureRequestBuilder) Split(batch *Batch) (RequestMetadata, []*archive.Record) {
	return splitBatch(batch)
}

func (rb *AzureRequestBuilder) Build(meta RequestMetadata, payload []byte) *Request {
	req := finalizeRequest(GenerateObjectKey(rb.blobPrefix, meta.PartitionKey), meta, payload)
	req.ContentType = azureContentType
	return req
}

// AzureBlobClient writes archive blobs into one container. Authentication is
// by storage account connection string only.
type AzureBlobClient struct {
	client    *azblob.Client
	container string
	logger    zerolog.Logger
}

// NewAzureBlobClient builds the blob service client from the configured
// connection string.
func NewAzureBlobClient(container string, cfg *AzureBackendConfig, logger zerolog.Logger) (*AzureBlobClient, error) {
	if container == "" {
		return nil, errors.New("Azure container name is required")
	}
	if cfg == nil || cfg.ConnectionString == "" {
		return nil, errors.New("Azure Blob connection string is required")
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Azure Blob client: %w", err)
	}
	return &AzureBlobClient{
		client:    client,
		container: container,
		logger:    logger.With().Str("component", "AzureBlobClient").Logger(),
	}, nil
}

func (c *AzureBlobClient) PutObject(ctx context.Context, req *Request) error {
	headers := &blob.HTTPHeaders{
		BlobContentEncoding: to.Ptr(req.ContentEncoding),
	}
	if req.ContentType != "" {
		headers.BlobContentType = to.Ptr(req.ContentType)
	}
	_, err := c.client.UploadBuffer(ctx, c.container, req.Key, req.Body, &azblob.UploadBufferOptions{
		HTTPHeaders: headers,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", req.Key, err)
	}
	return nil
}

// Retryable classifies Azure failures by response status; transport errors
// without a response count as network failures and are retried.
func (c *AzureBlobClient) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return retryableStatus(respErr.StatusCode)
	}
	return true
}

// Healthcheck probes the container's properties.
func (c *AzureBlobClient) Healthcheck(ctx context.Context) error {
	containerClient := c.client.ServiceClient().NewContainerClient(c.container)
	if _, err := containerClient.GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("Azure container %q is not accessible: %w", c.container, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources needing release.
func (c *AzureBlobClient) Close() error {
	return nil
}
