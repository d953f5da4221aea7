package archivestore

import (
	"fmt"

	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/illmade-knight/go-logarchive/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// NewArchivePipeline assembles the full intake-to-archive path: events from
// source are parsed and normalized with the given schema mapping, then
// batched, encoded, and dispatched by sink. The returned pipeline owns the
// sink's lifecycle; callers Start and Stop the pipeline only.
func NewArchivePipeline(
	numWorkers int,
	source messagepipeline.EventSource,
	sink *Sink,
	schema archive.SchemaConfig,
	logger zerolog.Logger,
) (*messagepipeline.Pipeline[archive.Record], error) {
	normalizer, err := archive.NewNormalizer(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create record normalizer: %w", err)
	}

	pipeline, err := messagepipeline.NewPipeline[archive.Record](
		numWorkers,
		source,
		sink,
		archive.RecordTransformer(normalizer),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive pipeline: %w", err)
	}
	return pipeline, nil
}
