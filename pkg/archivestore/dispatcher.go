package archivestore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DispatcherConfig bounds the worker pool and its retry policy.
type DispatcherConfig struct {
	// Concurrency is the number of in-flight requests allowed. Archive
	// batches are large, so the default stays low.
	Concurrency int
	// QueueSize is the capacity of the request queue feeding the workers.
	QueueSize int
	// MaxAttempts caps tries per request, the first attempt included.
	MaxAttempts int
	// InitialBackoff is the delay after the first retryable failure; it
	// doubles per attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestTimeout bounds a single backend attempt.
	RequestTimeout time.Duration
}

const (
	defaultDispatchConcurrency = 4
	defaultDispatchQueueSize   = 8
	defaultMaxAttempts         = 5
	defaultInitialBackoff      = 200 * time.Millisecond
	defaultMaxBackoff          = 2 * time.Second
	defaultRequestTimeout      = 60 * time.Second
)

// DispatchCounters is a snapshot of dispatch outcomes since the dispatcher
// started.
type DispatchCounters struct {
	// Delivered counts requests durably acknowledged by the backend.
	Delivered int64
	// Failed counts requests whose delivery tokens were marked failed.
	Failed int64
	// Retries counts individual attempt failures that were retried.
	Retries int64
}

// Dispatcher executes built requests against one backend with bounded
// concurrency and capped exponential backoff. Whatever happens to a request,
// its delivery tokens are resolved exactly once: success after a durable
// write, failure on retry exhaustion, a fatal error, cancellation, or a
// panicking client.
type Dispatcher struct {
	config DispatcherConfig
	client ObjectStoreClient
	logger zerolog.Logger

	queue chan *Request
	wg    sync.WaitGroup

	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc

	delivered atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

// NewDispatcher creates a Dispatcher over the given backend client, applying
// defaults for any unset bound.
func NewDispatcher(config DispatcherConfig, client ObjectStoreClient, logger zerolog.Logger) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultDispatchConcurrency
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultDispatchQueueSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultMaxBackoff
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())
	return &Dispatcher{
		config:       config,
		client:       client,
		logger:       logger.With().Str("component", "Dispatcher").Logger(),
		queue:        make(chan *Request, config.QueueSize),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.logger.Info().
		Int("concurrency", d.config.Concurrency).
		Int("max_attempts", d.config.MaxAttempts).
		Msg("Starting dispatcher workers...")
	for i := 0; i < d.config.Concurrency; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Submit queues a request for dispatch, blocking while all workers are busy
// and the queue is full. The dispatcher owns the request from here on.
func (d *Dispatcher) Submit(req *Request) {
	d.queue <- req
}

// Stop closes the queue and waits for queued and in-flight requests to
// finish. Callers must stop submitting first.
func (d *Dispatcher) Stop() {
	d.logger.Info().Msg("Stopping dispatcher...")
	close(d.queue)
	d.wg.Wait()
	d.shutdownFunc()
	d.logger.Info().Msg("Dispatcher stopped.")
}

// Abort cancels in-flight attempts and makes remaining queued requests fail
// fast. Their delivery tokens resolve as failed, so upstream redelivers.
func (d *Dispatcher) Abort() {
	d.logger.Warn().Msg("Aborting dispatcher, failing in-flight requests.")
	d.shutdownFunc()
}

// Counters returns a snapshot of dispatch outcomes.
func (d *Dispatcher) Counters() DispatchCounters {
	return DispatchCounters{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Retries:   d.retries.Load(),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for req := range d.queue {
		d.dispatch(req)
	}
}

// dispatch runs the attempt loop for one request. The deferred resolution is
// the exactly-once guarantee: it runs on success, exhaustion, fatal errors,
// cancellation, and panics alike.
func (d *Dispatcher) dispatch(req *Request) {
	delivered := false
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("key", req.Key).Msg("Panic while dispatching request.")
		}
		if delivered {
			d.delivered.Add(1)
		} else {
			d.failed.Add(1)
		}
		req.Finalizers.Resolve(delivered)
	}()

	var lastErr error
	backoff := d.config.InitialBackoff
attempts:
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if d.shutdownCtx.Err() != nil {
			lastErr = d.shutdownCtx.Err()
			break
		}

		err := d.put(req)
		if err == nil {
			delivered = true
			d.logger.Debug().
				Str("key", req.Key).
				Int("event_count", req.Metadata.EventCount).
				Int("payload_bytes", req.Metadata.PayloadBytes).
				Int("attempt", attempt).
				Msg("Request delivered.")
			return
		}
		lastErr = err

		if !d.client.Retryable(err) {
			d.logger.Error().Err(err).Str("key", req.Key).Msg("Fatal backend error.")
			break
		}
		if attempt == d.config.MaxAttempts {
			break
		}

		d.retries.Add(1)
		d.logger.Warn().Err(err).
			Str("key", req.Key).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retryable backend error.")

		select {
		case <-d.shutdownCtx.Done():
			lastErr = d.shutdownCtx.Err()
			break attempts
		case <-time.After(backoff):
			backoff *= 2
			if backoff > d.config.MaxBackoff {
				backoff = d.config.MaxBackoff
			}
		}
	}

	d.logger.Error().Err(lastErr).
		Str("key", req.Key).
		Int("event_count", req.Metadata.EventCount).
		Msg("Request failed, marking its delivery tokens failed.")
}

// put performs a single bounded attempt.
func (d *Dispatcher) put(req *Request) error {
	ctx, cancel := context.WithTimeout(d.shutdownCtx, d.config.RequestTimeout)
	defer cancel()
	return d.client.PutObject(ctx, req)
}
