package archivestore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/illmade-knight/go-logarchive/pkg/types"
)

// --- Mock GCS Client Components ---

// mockGCSWriter is a mock GCSWriter that writes to an in-memory buffer.
type mockGCSWriter struct {
	buf      bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closeErr != nil {
		return m.closeErr
	}
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

// mockGCSObjectHandle is a mock GCSObjectHandle that captures the writer
// options it was opened with.
type mockGCSObjectHandle struct {
	writer *mockGCSWriter
	opts   GCSWriterOptions
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, opts GCSWriterOptions) GCSWriter {
	m.opts = opts
	if m.writer == nil {
		m.writer = &mockGCSWriter{}
	}
	return m.writer
}

// mockGCSBucketHandle is a mock GCSBucketHandle that stores created objects in a map.
type mockGCSBucketHandle struct {
	sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	attrsErr error
	writeErr error
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{
			writer: &mockGCSWriter{writeErr: m.writeErr, closeErr: m.closeErr},
		}
	}
	return m.objects[name]
}

func (m *mockGCSBucketHandle) Attrs(_ context.Context) error {
	return m.attrsErr
}

// mockGCSClient is a mock GCSClient.
type mockGCSClient struct {
	bucket *mockGCSBucketHandle
	closed bool
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{
		bucket: &mockGCSBucketHandle{},
	}
}

func (m *mockGCSClient) Bucket(_ string) GCSBucketHandle {
	return m.bucket
}

func (m *mockGCSClient) Close() error {
	m.closed = true
	return nil
}

// --- Mock Object Store Client ---

// mockObjectStoreClient is a scriptable implementation of ObjectStoreClient.
// PutObjectFn decides the outcome of each attempt; RetryableFn decides the
// error classification. Both default to the happy path.
type mockObjectStoreClient struct {
	sync.Mutex
	PutObjectFn func(ctx context.Context, req *Request) error
	RetryableFn func(err error) bool
	healthErr   error
	putCalls    int
	requests    []*Request
	closed      bool
}

func (m *mockObjectStoreClient) PutObject(ctx context.Context, req *Request) error {
	m.Lock()
	m.putCalls++
	m.requests = append(m.requests, req)
	fn := m.PutObjectFn
	m.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return nil
}

func (m *mockObjectStoreClient) Retryable(err error) bool {
	if m.RetryableFn != nil {
		return m.RetryableFn(err)
	}
	return true
}

func (m *mockObjectStoreClient) Healthcheck(_ context.Context) error {
	return m.healthErr
}

func (m *mockObjectStoreClient) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}

func (m *mockObjectStoreClient) GetPutCalls() int {
	m.Lock()
	defer m.Unlock()
	return m.putCalls
}

func (m *mockObjectStoreClient) GetRequests() []*Request {
	m.Lock()
	defer m.Unlock()
	return append([]*Request(nil), m.requests...)
}

// --- Test Data Builders ---

// deliveryProbe counts token outcomes across a test.
type deliveryProbe struct {
	sync.Mutex
	acks  int
	nacks int
}

func (p *deliveryProbe) Ack() {
	p.Lock()
	defer p.Unlock()
	p.acks++
}

func (p *deliveryProbe) Nack() {
	p.Lock()
	defer p.Unlock()
	p.nacks++
}

func (p *deliveryProbe) Counts() (acks, nacks int) {
	p.Lock()
	defer p.Unlock()
	return p.acks, p.nacks
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// newTestRecord builds a minimal normalized record for the given partition.
func newTestRecord(partitionKey, message string) *archive.Record {
	return &archive.Record{
		Fields: map[string]any{
			"message": message,
			"host":    "test-host",
		},
		EventTime:    time.Now().UTC(),
		PartitionKey: partitionKey,
	}
}

// newTestMessage wraps a record with delivery tokens reporting to probe.
func newTestMessage(record *archive.Record, probe *deliveryProbe) *types.BatchedMessage[archive.Record] {
	return &types.BatchedMessage[archive.Record]{
		OriginalMessage: types.ConsumedMessage{
			Ack:  probe.Ack,
			Nack: probe.Nack,
		},
		Payload: record,
	}
}

// newTestBatch builds a flushed batch of count records with tracked tokens.
func newTestBatch(partitionKey string, count int, probe *deliveryProbe) *Batch {
	batch := &Batch{
		PartitionKey: partitionKey,
		Finalizers:   &types.Finalizers{},
		OpenedAt:     time.Now().UTC(),
	}
	for i := 0; i < count; i++ {
		record := newTestRecord(partitionKey, "payload")
		batch.Records = append(batch.Records, record)
		batch.Finalizers.Add(types.NewFinalizer(probe.Ack, probe.Nack))
		batch.EstimatedBytes += record.EstimatedSize()
	}
	return batch
}

// newTestRequest builds a dispatchable request carrying count tracked tokens.
func newTestRequest(key string, count int, probe *deliveryProbe) *Request {
	finalizers := &types.Finalizers{}
	for i := 0; i < count; i++ {
		finalizers.Add(types.NewFinalizer(probe.Ack, probe.Nack))
	}
	return &Request{
		Key:             key,
		Body:            []byte("payload"),
		ContentEncoding: archive.ContentEncoding,
		Metadata: RequestMetadata{
			PartitionKey: "/dt=20210823/hour=16/",
			EventCount:   count,
		},
		Finalizers: finalizers,
	}
}
