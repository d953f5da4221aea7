package types

import (
	"time"
)

// ConsumedMessage is one log event as handed over by the upstream source.
type ConsumedMessage struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message, expected to be a JSON
	// object of field -> value pairs.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Attributes carries broker-level metadata that is not part of the event
	// body itself.
	Attributes map[string]string
	// Ack reports that the event has been durably archived. Together with
	// Nack it forms the event's delivery token: exactly one of the two must
	// be called once the event's fate is known.
	Ack func()
	// Nack reports that archiving failed and the event should be redelivered
	// by the upstream source.
	Nack func()
}

// BatchedMessage links a raw ConsumedMessage with its normalized payload of
// type T so the final processing stage can work with clean, typed data while
// retaining the ability to resolve the original message's delivery token.
type BatchedMessage[T any] struct {
	// OriginalMessage is the message as it was received from the source.
	OriginalMessage ConsumedMessage
	// Payload is the structured data of type T produced by the transform
	// stage.
	Payload *T
}
