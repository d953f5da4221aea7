package archivestore

import (
	"sync"
	"time"

	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"github.com/illmade-knight/go-logarchive/pkg/types"
	"github.com/rs/zerolog"
)

// BatchPolicy holds the flush thresholds for the Batcher.
//
// The defaults deliberately favour large, infrequent objects: many small
// archives slow rehydration down badly. There is no event-count threshold.
type BatchPolicy struct {
	// MaxBytes flushes a batch once its estimated encoded size reaches this
	// many bytes.
	MaxBytes int
	// FlushTimeout flushes a batch once this much time has passed since its
	// first record, whatever its size.
	FlushTimeout time.Duration
	// OutputBuffer is the capacity of the flushed-batch queue that decouples
	// accumulation from dispatch.
	OutputBuffer int
}

const (
	defaultMaxBatchBytes  = 100_000_000
	defaultFlushTimeout   = 900 * time.Second
	defaultOutputBuffer   = 16
	batcherInputBufferLen = 256
)

// Batcher accumulates normalized records into per-partition batches and emits
// them downstream when a flush threshold fires. Each partition key is an
// independent state machine; flushing one never touches another.
type Batcher struct {
	policy     BatchPolicy
	logger     zerolog.Logger
	inputChan  chan *types.BatchedMessage[archive.Record]
	outputChan chan *Batch
	wg         sync.WaitGroup
}

// NewBatcher creates a Batcher with the given flush policy, applying the
// archive defaults for any threshold left unset.
func NewBatcher(policy BatchPolicy, logger zerolog.Logger) *Batcher {
	if policy.MaxBytes <= 0 {
		policy.MaxBytes = defaultMaxBatchBytes
	}
	if policy.FlushTimeout <= 0 {
		policy.FlushTimeout = defaultFlushTimeout
	}
	if policy.OutputBuffer <= 0 {
		policy.OutputBuffer = defaultOutputBuffer
	}
	return &Batcher{
		policy:     policy,
		logger:     logger.With().Str("component", "Batcher").Logger(),
		inputChan:  make(chan *types.BatchedMessage[archive.Record], batcherInputBufferLen),
		outputChan: make(chan *Batch, policy.OutputBuffer),
	}
}

// Start begins the accumulation worker goroutine.
func (b *Batcher) Start() {
	b.logger.Info().
		Int("max_bytes", b.policy.MaxBytes).
		Dur("flush_timeout", b.policy.FlushTimeout).
		Msg("Starting batcher worker...")
	b.wg.Add(1)
	go b.worker()
}

// Stop closes the input, waits for the worker to flush every open batch into
// the output queue, then closes the output so downstream consumers can drain
// and finish. Callers must stop all producers before calling Stop.
func (b *Batcher) Stop() {
	b.logger.Info().Msg("Stopping batcher...")
	close(b.inputChan)
	b.wg.Wait()
	close(b.outputChan)
	b.logger.Info().Msg("Batcher stopped.")
}

// Input returns the write-only channel for normalized records.
func (b *Batcher) Input() chan<- *types.BatchedMessage[archive.Record] {
	return b.inputChan
}

// Output returns the read-only stream of flushed batches.
func (b *Batcher) Output() <-chan *Batch {
	return b.outputChan
}

// worker contains the per-key accumulation logic. A single timer is kept
// armed to the earliest open-batch deadline, so timeout flushes fire at or
// shortly after their configured age.
func (b *Batcher) worker() {
	defer b.wg.Done()

	batches := make(map[string]*Batch)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	rearm := func() {
		timer.Stop()
		var next time.Time
		for _, batch := range batches {
			deadline := batch.OpenedAt.Add(b.policy.FlushTimeout)
			if next.IsZero() || deadline.Before(next) {
				next = deadline
			}
		}
		if !next.IsZero() {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}

	flushAll := func() {
		if len(batches) == 0 {
			return
		}
		b.logger.Info().Int("key_count", len(batches)).Msg("Flushing all pending batches.")
		for key, batch := range batches {
			b.emit(batch)
			delete(batches, key)
		}
	}

	for {
		select {
		case msg, ok := <-b.inputChan:
			if !ok {
				b.logger.Info().Msg("Input channel closed, flushing remaining batches.")
				flushAll()
				return
			}
			if b.append(batches, msg) {
				rearm()
			}

		case <-timer.C:
			now := time.Now()
			for key, batch := range batches {
				if !now.Before(batch.OpenedAt.Add(b.policy.FlushTimeout)) {
					b.logger.Info().Str("partition_key", key).Msg("Batch reached its age limit, flushing.")
					b.emit(batch)
					delete(batches, key)
				}
			}
			rearm()
		}
	}
}

// append adds one record to its partition's open batch, opening the batch if
// needed, and flushes immediately on crossing the byte threshold. It reports
// whether the timer deadline set changed.
func (b *Batcher) append(batches map[string]*Batch, msg *types.BatchedMessage[archive.Record]) bool {
	record := msg.Payload
	key := record.PartitionKey

	batch, open := batches[key]
	if !open {
		batch = &Batch{
			PartitionKey: key,
			Finalizers:   &types.Finalizers{},
			OpenedAt:     time.Now().UTC(),
		}
		batches[key] = batch
		b.logger.Debug().Str("partition_key", key).Msg("Opened new batch.")
	}

	batch.Records = append(batch.Records, record)
	batch.Finalizers.Add(types.NewFinalizer(msg.OriginalMessage.Ack, msg.OriginalMessage.Nack))
	batch.EstimatedBytes += record.EstimatedSize()

	if batch.EstimatedBytes >= b.policy.MaxBytes {
		b.logger.Info().
			Str("partition_key", key).
			Int("estimated_bytes", batch.EstimatedBytes).
			Msg("Batch reached its size limit, flushing.")
		b.emit(batch)
		delete(batches, key)
		return true
	}
	// Only a newly opened batch can change the earliest deadline.
	return !open
}

// emit hands a flushed batch to the output queue. The send blocks when the
// queue is full, which is the only backpressure point between accumulation
// and a slow backend.
func (b *Batcher) emit(batch *Batch) {
	b.logger.Debug().
		Str("partition_key", batch.PartitionKey).
		Int("record_count", len(batch.Records)).
		Int("estimated_bytes", batch.EstimatedBytes).
		Msg("Emitting batch.")
	b.outputChan <- batch
}
