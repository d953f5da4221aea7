package archivestore

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/illmade-knight/go-logarchive/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file assembles the sink from its parts and provides the configuration
// driven constructor.
// ====================================================================================

// Sink ties the batcher, encoder, request builder, and dispatcher into one
// running archival pipeline stage. Records enter through Input; acknowledged
// or failed delivery tokens are the only thing that leaves.
type Sink struct {
	batcher    *Batcher
	dispatcher *Dispatcher
	builder    RequestBuilder
	encoder    *archive.Encoder
	client     ObjectStoreClient
	logger     zerolog.Logger
	flushWg    sync.WaitGroup
}

// NewSink assembles a Sink from explicit components. Most callers want
// BuildSink, which derives the components from configuration.
func NewSink(
	batcher *Batcher,
	dispatcher *Dispatcher,
	builder RequestBuilder,
	encoder *archive.Encoder,
	client ObjectStoreClient,
	logger zerolog.Logger,
) *Sink {
	return &Sink{
		batcher:    batcher,
		dispatcher: dispatcher,
		builder:    builder,
		encoder:    encoder,
		client:     client,
		logger:     logger.With().Str("component", "ArchiveSink").Logger(),
	}
}

// BuildSink validates cfg, constructs the backend client for the selected
// service, and returns the assembled sink plus its healthcheck. Configuration
// errors (unknown service, archival storage class, missing backend options)
// surface here and the sink never starts.
func BuildSink(ctx context.Context, cfg *SinkConfig, logger zerolog.Logger) (*Sink, Healthcheck, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		client  ObjectStoreClient
		builder RequestBuilder
	)
	switch cfg.Service {
	case ServiceAWSS3:
		s3Client, err := NewS3Client(ctx, cfg.Bucket, cfg.AWSS3, logger)
		if err != nil {
			return nil, nil, err
		}
		client = s3Client
		builder = NewS3RequestBuilder(cfg.KeyPrefix)

	case ServiceAzureBlob:
		azureClient, err := NewAzureBlobClient(cfg.Bucket, cfg.AzureBlob, logger)
		if err != nil {
			return nil, nil, err
		}
		client = azureClient
		builder = NewAzureRequestBuilder(cfg.KeyPrefix)

	case ServiceGCS:
		storageClient, err := newGoogleStorageClient(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, err
		}
		gcsClient, err := NewGCSStorageClient(NewGCSClientAdapter(storageClient), cfg.Bucket, logger)
		if err != nil {
			return nil, nil, err
		}
		client = gcsClient
		builder = NewGCSRequestBuilder(cfg.KeyPrefix, cfg.GCS)

	default:
		return nil, nil, &UnsupportedServiceError{Service: cfg.Service}
	}

	batcher := NewBatcher(cfg.Batch.policy(), logger)
	dispatcher := NewDispatcher(cfg.Request.dispatcherConfig(), client, logger)
	encoder := archive.NewEncoder(cfg.Encoding.fieldFilter())

	sink := NewSink(batcher, dispatcher, builder, encoder, client, logger)
	return sink, client.Healthcheck, nil
}

// Start launches the dispatcher pool, the batcher, and the flush loop wiring
// them together.
func (s *Sink) Start() {
	s.logger.Info().Msg("Starting archive sink...")
	s.dispatcher.Start()
	s.batcher.Start()
	s.flushWg.Add(1)
	go s.flushLoop()
}

// Input returns the channel normalized records enter the sink through.
func (s *Sink) Input() chan<- *types.BatchedMessage[archive.Record] {
	return s.batcher.Input()
}

// Counters exposes the dispatch outcome counters.
func (s *Sink) Counters() DispatchCounters {
	return s.dispatcher.Counters()
}

// Stop drains the pipeline in order: open batches flush, the flush loop
// encodes and hands them off, the dispatcher finishes remaining writes, then
// the backend client closes. Every outstanding delivery token is resolved
// before Stop returns. Callers must stop feeding Input first.
func (s *Sink) Stop() {
	s.logger.Info().Msg("Stopping archive sink...")
	s.batcher.Stop()
	s.flushWg.Wait()
	s.dispatcher.Stop()
	if err := s.client.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing object store client.")
	}
	s.logger.Info().Msg("Archive sink stopped.")
}

func (s *Sink) flushLoop() {
	defer s.flushWg.Done()
	for batch := range s.batcher.Output() {
		s.flush(batch)
	}
}

// flush turns one batch into a dispatched request. Tokens are already
// detached when encoding runs, so an encoding failure fails the whole batch
// cleanly instead of dropping acknowledgement obligations.
func (s *Sink) flush(batch *Batch) {
	meta, records := s.builder.Split(batch)
	payload, err := s.encoder.EncodeBatch(records)
	if err != nil {
		s.logger.Error().Err(err).
			Str("partition_key", meta.PartitionKey).
			Int("event_count", meta.EventCount).
			Msg("Failed to encode batch, failing its delivery tokens.")
		meta.Finalizers.Resolve(false)
		return
	}
	s.dispatcher.Submit(s.builder.Build(meta, payload))
}
