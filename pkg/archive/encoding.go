package archive

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// The persisted object format: newline-delimited JSON, gzip-compressed. These
// values travel on every write request regardless of backend.
const (
	ContentType     = "application/x-ndjson"
	ContentEncoding = "gzip"
)

// Encoding reuses buffers and gzip writers across batches. Oversized buffers
// are not returned to the pool so a single huge batch cannot pin memory.
var (
	bufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}
	gzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
			return w
		},
	}
)

const maxPooledBufferCap = 4 * 1024 * 1024

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= maxPooledBufferCap {
		buf.Reset()
		bufferPool.Put(buf)
	}
}

// FieldFilter restricts which top-level record fields are serialized. When
// OnlyFields is set it wins over ExceptFields. The zero value passes every
// field through untouched.
type FieldFilter struct {
	OnlyFields   []string
	ExceptFields []string
}

func (f FieldFilter) active() bool {
	return len(f.OnlyFields) > 0 || len(f.ExceptFields) > 0
}

// apply returns the serializable view of fields. It copies only when a filter
// is configured; the common unfiltered path reuses the record's own map.
func (f FieldFilter) apply(fields map[string]any) map[string]any {
	if !f.active() {
		return fields
	}
	filtered := make(map[string]any, len(fields))
	if len(f.OnlyFields) > 0 {
		for _, key := range f.OnlyFields {
			if value, ok := fields[key]; ok {
				filtered[key] = value
			}
		}
		return filtered
	}
	for key, value := range fields {
		filtered[key] = value
	}
	for _, key := range f.ExceptFields {
		delete(filtered, key)
	}
	return filtered
}

// Encoder serializes archive records into the persisted object format, one
// JSON document per line, the whole stream gzip-compressed at the default
// level. Compression is always on; the content-encoding header downstream
// reflects that unconditionally.
type Encoder struct {
	filter FieldFilter
}

// NewEncoder creates an Encoder applying the given field filter to every
// record it serializes.
func NewEncoder(filter FieldFilter) *Encoder {
	return &Encoder{filter: filter}
}

// EncodeBatch serializes records in order into a single compressed payload.
// The returned slice is owned by the caller. On error no partial payload is
// returned; the caller keeps responsibility for the batch's delivery tokens.
func (e *Encoder) EncodeBatch(records []*Record) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	enc := json.NewEncoder(gz)
	for _, record := range records {
		if err := enc.Encode(e.filter.apply(record.Fields)); err != nil {
			_ = gz.Close()
			gzipPool.Put(gz)
			putBuffer(buf)
			return nil, fmt.Errorf("failed to encode archive record: %w", err)
		}
	}

	if err := gz.Close(); err != nil {
		gzipPool.Put(gz)
		putBuffer(buf)
		return nil, fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	gzipPool.Put(gz)

	payload := make([]byte, buf.Len())
	copy(payload, buf.Bytes())
	putBuffer(buf)
	return payload, nil
}

// EstimatedJSONSize approximates the serialized JSON size of v without
// allocating. The batch accumulator uses it to track encoded-so-far size as
// records arrive; the estimate only needs to be cheap and stable, not exact.
func EstimatedJSONSize(v any) int {
	switch t := v.(type) {
	case nil:
		return 4
	case bool:
		return 5
	case string:
		return len(t) + 2
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return 20
	case json.Number:
		return len(t)
	case time.Time:
		return len(time.RFC3339Nano) + 2
	case []any:
		size := 2
		for _, item := range t {
			size += EstimatedJSONSize(item) + 1
		}
		return size
	case []string:
		size := 2
		for _, item := range t {
			size += len(item) + 3
		}
		return size
	case map[string]any:
		size := 2
		for key, value := range t {
			size += len(key) + 4 + EstimatedJSONSize(value)
		}
		return size
	case map[string]string:
		size := 2
		for key, value := range t {
			size += len(key) + len(value) + 6
		}
		return size
	default:
		return 16
	}
}
