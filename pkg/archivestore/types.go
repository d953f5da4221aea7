package archivestore

import (
	"context"
	"time"

	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/illmade-knight/go-logarchive/pkg/types"
)

// ====================================================================================
// This file defines the core types the archivestore pipeline passes between
// its stages: accumulated batches, built write requests, and the contracts
// for backend clients.
// ====================================================================================

// Batch is an ordered group of archive records sharing one partition key,
// together with the delivery tokens of every event that produced them. The
// Batcher owns a batch exclusively until flush; afterwards exactly one
// request builder consumes it. No two batches ever share a token.
type Batch struct {
	PartitionKey   string
	Records        []*archive.Record
	Finalizers     *types.Finalizers
	EstimatedBytes int
	OpenedAt       time.Time
}

// RequestMetadata is the accounting detached from a batch before encoding, so
// that delivery tokens survive an encoding failure.
type RequestMetadata struct {
	PartitionKey string
	EventCount   int
	// RawBytes is the pre-encoding size estimate accumulated by the Batcher.
	RawBytes int
	// PayloadBytes is the compressed payload size, set when the request is built.
	PayloadBytes int
	Finalizers   *types.Finalizers
}

// Request is one fully built object write: payload, final object key, content
// headers, and the batch's delivery tokens. It is created once per flush and
// consumed exactly once by the Dispatcher, which resolves the tokens on every
// outcome.
type Request struct {
	Key             string
	Body            []byte
	ContentEncoding string
	// ContentType is empty for backends that do not set one on the object.
	ContentType string
	// Headers carries backend-specific write headers, e.g. the x-goog-*
	// family for Cloud Storage. Nil for backends configured entirely on the
	// client.
	Headers  map[string]string
	Metadata RequestMetadata
	// Finalizers are moved here from the metadata at build time; the
	// Dispatcher must resolve them exactly once.
	Finalizers *types.Finalizers
}

// ObjectStoreClient is the single write surface the core needs from a storage
// backend: put bytes at a key, classify failures, probe reachability.
type ObjectStoreClient interface {
	// PutObject writes the request body at the request key. It must return
	// only after the backend has durably acknowledged the write.
	PutObject(ctx context.Context, req *Request) error
	// Retryable reports whether err is worth another attempt (network,
	// timeout, throttling, server-side failure) or fatal (malformed request,
	// authorization, missing bucket).
	Retryable(err error) bool
	// Healthcheck probes the configured bucket or container.
	Healthcheck(ctx context.Context) error
	// Close releases the underlying client, waiting for pending work.
	Close() error
}

// Healthcheck is a single-probe readiness check against the sink's backend.
type Healthcheck func(ctx context.Context) error

// retryableStatus is the HTTP-level classification shared by the backend
// clients: server-side failures, throttling, and request timeouts are worth
// retrying; other client errors are not.
func retryableStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}
