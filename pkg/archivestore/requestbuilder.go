package archivestore

import (
	"github.com/illmade-knight/go-logarchive/pkg/archive"
)

// RequestBuilder turns a flushed batch into one backend write request. The
// two-step shape matters: Split detaches the delivery tokens before encoding
// runs, so an encoding failure can never orphan them.
type RequestBuilder interface {
	// Split separates a batch into its accounting (tokens included) and the
	// records to encode. The batch must not be used afterwards.
	Split(batch *Batch) (RequestMetadata, []*archive.Record)
	// Build finalizes the object key and packages the encoded payload with
	// the metadata's tokens. Pure given its inputs; no network I/O.
	Build(meta RequestMetadata, payload []byte) *Request
}

// splitBatch is the Split step shared by every backend builder.
func splitBatch(batch *Batch) (RequestMetadata, []*archive.Record) {
	return RequestMetadata{
		PartitionKey: batch.PartitionKey,
		EventCount:   len(batch.Records),
		RawBytes:     batch.EstimatedBytes,
		Finalizers:   batch.Finalizers,
	}, batch.Records
}

// finalizeRequest moves the tokens out of the metadata onto the request so
// exactly one owner holds them from here on.
func finalizeRequest(key string, meta RequestMetadata, payload []byte) *Request {
	finalizers := meta.Finalizers
	meta.Finalizers = nil
	meta.PayloadBytes = len(payload)
	return &Request{
		Key:             key,
		Body:            payload,
		ContentEncoding: archive.ContentEncoding,
		Metadata:        meta,
		Finalizers:      finalizers,
	}
}
