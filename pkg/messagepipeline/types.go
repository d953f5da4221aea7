package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-logarchive/pkg/types"
)

// ====================================================================================
// This file defines the core interfaces for the event intake pipeline: a
// source of raw events, a sink for transformed records, and the transform
// between them.
// ====================================================================================

// MessageSink is the hand-off point for transformed payloads. The archive
// sink's batcher is the canonical implementation.
type MessageSink[T any] interface {
	// Input returns a write-only channel for sending transformed messages to
	// the sink.
	Input() chan<- *types.BatchedMessage[T]
	// Start begins the sink's operations.
	Start()
	// Stop shuts the sink down, flushing any buffered work first.
	Stop()
}

// EventSource is a stream of raw events from a broker subscription. It owns
// the delivery tokens it hands out; everything downstream must resolve them.
type EventSource interface {
	// Messages returns the channel raw events arrive on. The source closes
	// it once fully stopped.
	Messages() <-chan types.ConsumedMessage
	// Start begins consumption. The source stops when ctx is cancelled or
	// Stop is called, whichever comes first.
	Start(ctx context.Context) error
	// Stop ceases consumption and releases the broker client.
	Stop() error
	// Done is closed when the source has fully stopped and its Messages
	// channel is closed.
	Done() <-chan struct{}
}

// EventTransformer turns one consumed event into a structured payload of
// type T. Returning skip drops the event as handled (it is acked); returning
// an error rejects it (it is nacked).
type EventTransformer[T any] func(msg types.ConsumedMessage) (payload *T, skip bool, err error)
