package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-logarchive/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the generic pipeline that moves events from any
// EventSource through a transform and into any MessageSink.
// ====================================================================================

// Pipeline consumes raw events, transforms them, and hands them to a sink.
// Every event leaves the pipeline with its delivery token accounted for: it
// is either passed along inside a BatchedMessage, acked on skip, or nacked
// on transform failure and shutdown.
type Pipeline[T any] struct {
	numWorkers   int
	source       EventSource
	sink         MessageSink[T]
	transformer  EventTransformer[T]
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewPipeline creates a pipeline with a pool of numWorkers transform
// workers.
func NewPipeline[T any](
	numWorkers int,
	source EventSource,
	sink MessageSink[T],
	transformer EventTransformer[T],
	logger zerolog.Logger,
) (*Pipeline[T], error) {
	if source == nil {
		return nil, errors.New("pipeline requires an event source")
	}
	if sink == nil {
		return nil, errors.New("pipeline requires a message sink")
	}
	if transformer == nil {
		return nil, errors.New("pipeline requires a transformer")
	}
	if numWorkers <= 0 {
		numWorkers = 5
	}

	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())

	return &Pipeline[T]{
		numWorkers:   numWorkers,
		source:       source,
		sink:         sink,
		transformer:  transformer,
		logger:       logger.With().Str("component", "Pipeline").Logger(),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}, nil
}

// Start brings the sink up first so it can receive, then the source, then
// the worker pool.
func (p *Pipeline[T]) Start() error {
	p.logger.Info().Msg("Starting pipeline...")

	p.sink.Start()

	if err := p.source.Start(p.shutdownCtx); err != nil {
		p.sink.Stop()
		return fmt.Errorf("failed to start event source: %w", err)
	}

	p.logger.Info().Int("worker_count", p.numWorkers).Msg("Starting transform workers...")
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info().Msg("Pipeline started.")
	return nil
}

func (p *Pipeline[T]) worker(workerID int) {
	defer p.wg.Done()
	p.logger.Debug().Int("worker_id", workerID).Msg("Transform worker started.")

	for {
		select {
		case <-p.shutdownCtx.Done():
			p.logger.Info().Int("worker_id", workerID).Msg("Transform worker shutting down.")
			return
		case msg, ok := <-p.source.Messages():
			if !ok {
				p.logger.Info().Int("worker_id", workerID).Msg("Source channel closed, worker exiting.")
				return
			}
			p.process(msg, workerID)
		}
	}
}

// process transforms one event and hands it to the sink. The token leaves
// here exactly once on every path.
func (p *Pipeline[T]) process(msg types.ConsumedMessage, workerID int) {
	payload, skip, err := p.transformer(msg)
	if err != nil {
		p.logger.Error().Err(err).Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Failed to transform event, Nacking.")
		if msg.Nack != nil {
			msg.Nack()
		}
		return
	}
	if skip {
		p.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer skipped event, Acking.")
		if msg.Ack != nil {
			msg.Ack()
		}
		return
	}

	batched := &types.BatchedMessage[T]{
		OriginalMessage: msg,
		Payload:         payload,
	}

	select {
	case p.sink.Input() <- batched:
	case <-p.shutdownCtx.Done():
		p.logger.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking event.")
		if msg.Nack != nil {
			msg.Nack()
		}
	}
}

// Stop shuts the pipeline down in dependency order: the source stops
// producing, the workers finish, stranded events are nacked back to the
// broker, and finally the sink flushes and stops.
func (p *Pipeline[T]) Stop() {
	p.logger.Info().Msg("Stopping pipeline...")

	p.shutdownFunc()

	p.logger.Info().Msg("Waiting for event source to stop...")
	if err := p.source.Stop(); err != nil {
		p.logger.Error().Err(err).Msg("Error stopping event source.")
	}
	<-p.source.Done()

	p.wg.Wait()

	// Workers exit on shutdown without draining; whatever is left in the
	// source channel goes back to the broker for redelivery.
	stranded := 0
	for msg := range p.source.Messages() {
		if msg.Nack != nil {
			msg.Nack()
		}
		stranded++
	}
	if stranded > 0 {
		p.logger.Info().Int("count", stranded).Msg("Nacked undelivered events for redelivery.")
	}

	p.sink.Stop()
	p.logger.Info().Msg("Pipeline stopped.")
}
