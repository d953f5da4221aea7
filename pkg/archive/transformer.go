package archive

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/illmade-knight/go-logarchive/pkg/types"
)

// RecordTransformer turns one consumed event into a normalized archive
// record. The payload must be a JSON object of field:value pairs; anything
// else is an intake error and the event goes back to the broker. Events with
// an empty payload carry nothing to archive and are skipped.
func RecordTransformer(normalizer *Normalizer) func(msg types.ConsumedMessage) (*Record, bool, error) {
	return func(msg types.ConsumedMessage) (*Record, bool, error) {
		if len(msg.Payload) == 0 {
			return nil, true, nil
		}
		var event Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return nil, false, fmt.Errorf("event payload is not a JSON object: %w", err)
		}
		return normalizer.Normalize(event), false, nil
	}
}
