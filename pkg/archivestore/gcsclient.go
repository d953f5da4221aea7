package archivestore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// ====================================================================================
// This file defines a set of interfaces to abstract the Google Cloud Storage
// client, so the GCS backend can be unit tested against an in-memory fake
// instead of a live bucket.
// ====================================================================================

// GCSWriterOptions are the object attributes stamped on a new archive object.
type GCSWriterOptions struct {
	ContentType     string
	ContentEncoding string
	PredefinedACL   string
	StorageClass    string
	Metadata        map[string]string
}

// GCSClient abstracts the top-level GCS client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
	Close() error
}

// GCSBucketHandle abstracts a GCS bucket.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
	// Attrs probes the bucket; the healthcheck needs only the error.
	Attrs(ctx context.Context) error
}

// GCSObjectHandle abstracts a GCS object.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context, opts GCSWriterOptions) GCSWriter
}

// GCSWriter abstracts a GCS object writer. The concrete writer commits the
// object on Close.
type GCSWriter interface {
	io.WriteCloser
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to the
// GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

func (a *gcsClientAdapter) Close() error {
	return a.client.Close()
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

func (a *gcsBucketHandleAdapter) Attrs(ctx context.Context) error {
	_, err := a.handle.Attrs(ctx)
	return err
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context, opts GCSWriterOptions) GCSWriter {
	w := a.handle.NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.ContentEncoding = opts.ContentEncoding
	w.PredefinedACL = opts.PredefinedACL
	w.StorageClass = opts.StorageClass
	if len(opts.Metadata) > 0 {
		w.Metadata = opts.Metadata
	}
	return w
}
