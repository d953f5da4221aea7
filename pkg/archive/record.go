package archive

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
)

// ====================================================================================
// This file defines the canonical archive record and the Normalizer that
// produces it from raw events.
// ====================================================================================

// Event is the parsed form of one upstream log payload: a JSON object mapping
// top-level field names to decoded values. Normalize consumes the map; callers
// must not reuse it afterwards.
type Event map[string]any

const (
	idField         = "_id"
	dateField       = "date"
	messageField    = "message"
	hostField       = "host"
	attributesField = "attributes"

	// dateLayout renders a UTC instant as RFC3339 with exactly millisecond
	// precision, the format rehydration tooling expects in the "date" field.
	dateLayout = "2006-01-02T15:04:05.000Z07:00"
)

// reservedFields are the top-level names the archive schema owns. They stay at
// the top level of a record; every other field moves under "attributes".
var reservedFields = map[string]struct{}{
	"_id":      {},
	"date":     {},
	"message":  {},
	"host":     {},
	"source":   {},
	"service":  {},
	"status":   {},
	"tags":     {},
	"trace_id": {},
	"span_id":  {},
}

// Record is the canonical archive form of one log event.
//
// Fields holds the exact top-level mapping serialized into the archive object.
// EventTime is the single resolved instant behind both the "date" field and
// the partition key, so the two can never disagree across an hour boundary.
// PartitionKey is routing state only and is never serialized.
type Record struct {
	Fields       map[string]any
	EventTime    time.Time
	PartitionKey string
}

// EstimatedSize returns the approximate encoded size of the record in the
// newline-delimited output, used by the batch accumulator's byte threshold.
func (r *Record) EstimatedSize() int {
	return EstimatedJSONSize(r.Fields) + 1
}

// SchemaConfig names the source fields the Normalizer maps onto the archive
// schema. Zero values fall back to the conventional names.
type SchemaConfig struct {
	// MessageField is the source field renamed to top-level "message".
	MessageField string
	// HostField is the source field renamed to top-level "host".
	HostField string
	// TimestampField is the source field consumed to resolve the event time.
	TimestampField string
}

// Normalizer rewrites arbitrary structured events into archive Records. One
// long-lived instance owns the record ID state: 8 random bytes drawn at
// construction plus an atomic sequence counter. Normalize is safe for
// concurrent use on independent events.
type Normalizer struct {
	messageField   string
	hostField      string
	timestampField string

	idRandom [8]byte
	idSeq    atomic.Uint32

	now func() time.Time
}

// NewNormalizer creates a Normalizer, drawing the process-lifetime random
// bytes that make its record IDs unique across concurrent writers.
func NewNormalizer(config SchemaConfig) (*Normalizer, error) {
	n := &Normalizer{
		messageField:   config.MessageField,
		hostField:      config.HostField,
		timestampField: config.TimestampField,
		now:            time.Now,
	}
	if n.messageField == "" {
		n.messageField = messageField
	}
	if n.hostField == "" {
		n.hostField = hostField
	}
	if n.timestampField == "" {
		n.timestampField = "timestamp"
	}
	if _, err := rand.Read(n.idRandom[:]); err != nil {
		return nil, fmt.Errorf("failed to seed record ID generator: %w", err)
	}
	return n, nil
}

// Normalize converts an event into an archive Record. It is a total function:
// any event shape yields a valid record.
//
// The reshaping mirrors the archive schema contract:
//   - "_id" is generated here and overwrites any value the source carried;
//   - "date" is the event's own timestamp if present (the timestamp field is
//     consumed either way), otherwise the current time;
//   - the configured message and host fields are renamed to "message"/"host";
//   - reserved fields pass through at the top level unchanged;
//   - everything else is moved, not copied, into "attributes".
func (n *Normalizer) Normalize(event Event) *Record {
	now := n.now()

	eventTime := now.UTC()
	if raw, ok := event[n.timestampField]; ok {
		delete(event, n.timestampField)
		if ts, valid := parseEventTime(raw); valid {
			eventTime = ts.UTC()
		}
	}

	renameField(event, n.messageField, messageField)
	renameField(event, n.hostField, hostField)

	fields := make(map[string]any, len(event)+3)
	attributes := make(map[string]any)
	for key, value := range event {
		if _, reserved := reservedFields[key]; reserved {
			fields[key] = value
			continue
		}
		attributes[key] = value
	}

	fields[idField] = n.generateID(now)
	fields[dateField] = eventTime.Format(dateLayout)
	fields[attributesField] = attributes

	return &Record{
		Fields:       fields,
		EventTime:    eventTime,
		PartitionKey: PartitionKey(eventTime),
	}
}

// generateID produces an 18-byte record ID: the 6 low-order bytes of the
// millisecond timestamp in big-endian order, the instance's 8 random bytes,
// and a wrapping 4-byte sequence number. IDs sort approximately by generation
// time on their prefix and stay unique for up to 2^32 records per instance.
func (n *Normalizer) generateID(now time.Time) string {
	var id [18]byte
	var millis [8]byte
	binary.BigEndian.PutUint64(millis[:], uint64(now.UnixMilli()))
	copy(id[0:6], millis[2:8])
	copy(id[6:14], n.idRandom[:])
	binary.BigEndian.PutUint32(id[14:18], n.idSeq.Add(1)-1)
	return base64.StdEncoding.EncodeToString(id[:])
}

// renameField moves the value under from to the key to, overwriting any value
// already there. A rename onto itself is a no-op.
func renameField(event Event, from, to string) {
	if from == to {
		return
	}
	if value, ok := event[from]; ok {
		delete(event, from)
		event[to] = value
	}
}

// parseEventTime extracts a usable timestamp from a raw event value. Only
// native time values and RFC3339 strings qualify; anything else falls back to
// the capture time in Normalize.
func parseEventTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
