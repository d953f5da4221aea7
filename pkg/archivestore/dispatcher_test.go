package archivestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// fastRetryConfig keeps retry tests quick without changing the loop shape.
func fastRetryConfig(maxAttempts int) DispatcherConfig {
	return DispatcherConfig{
		Concurrency:    1,
		MaxAttempts:    maxAttempts,
		InitialBackoff: 2 * time.Millisecond,
		MaxBackoff:     8 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func TestNewDispatcher_AppliesDefaults(t *testing.T) {
	dispatcher := NewDispatcher(DispatcherConfig{}, &mockObjectStoreClient{}, zerolog.Nop())

	assert.Equal(t, defaultDispatchConcurrency, dispatcher.config.Concurrency)
	assert.Equal(t, defaultDispatchQueueSize, dispatcher.config.QueueSize)
	assert.Equal(t, defaultMaxAttempts, dispatcher.config.MaxAttempts)
	assert.Equal(t, defaultInitialBackoff, dispatcher.config.InitialBackoff)
	assert.Equal(t, defaultMaxBackoff, dispatcher.config.MaxBackoff)
	assert.Equal(t, defaultRequestTimeout, dispatcher.config.RequestTimeout)
}

func TestDispatcher_DeliversAndResolvesTokens(t *testing.T) {
	probe := &deliveryProbe{}
	client := &mockObjectStoreClient{}
	dispatcher := NewDispatcher(fastRetryConfig(3), client, zerolog.Nop())
	dispatcher.Start()

	dispatcher.Submit(newTestRequest("logs/archive_a.json.gz", 3, probe))
	dispatcher.Stop()

	acks, nacks := probe.Counts()
	assert.Equal(t, 3, acks, "every token should resolve delivered exactly once")
	assert.Zero(t, nacks)

	counters := dispatcher.Counters()
	assert.Equal(t, int64(1), counters.Delivered)
	assert.Zero(t, counters.Failed)
	assert.Zero(t, counters.Retries)
	assert.Equal(t, 1, client.GetPutCalls())
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	probe := &deliveryProbe{}
	var calls atomic.Int32
	client := &mockObjectStoreClient{}
	client.PutObjectFn = func(_ context.Context, _ *Request) error {
		if calls.Add(1) <= 2 {
			return errors.New("transient backend failure")
		}
		return nil
	}
	dispatcher := NewDispatcher(fastRetryConfig(5), client, zerolog.Nop())
	dispatcher.Start()

	dispatcher.Submit(newTestRequest("logs/archive_retry.json.gz", 2, probe))
	dispatcher.Stop()

	acks, nacks := probe.Counts()
	assert.Equal(t, 2, acks, "tokens resolve once even when delivery needed retries")
	assert.Zero(t, nacks)

	counters := dispatcher.Counters()
	assert.Equal(t, int64(1), counters.Delivered)
	assert.Equal(t, int64(2), counters.Retries)
	assert.Equal(t, 3, client.GetPutCalls())
}

func TestDispatcher_ExhaustsAttemptsAndFailsTokens(t *testing.T) {
	probe := &deliveryProbe{}
	client := &mockObjectStoreClient{}
	client.PutObjectFn = func(_ context.Context, _ *Request) error {
		return errors.New("backend still unavailable")
	}
	dispatcher := NewDispatcher(fastRetryConfig(3), client, zerolog.Nop())
	dispatcher.Start()

	dispatcher.Submit(newTestRequest("logs/archive_exhausted.json.gz", 2, probe))
	dispatcher.Stop()

	acks, nacks := probe.Counts()
	assert.Zero(t, acks)
	assert.Equal(t, 2, nacks, "exhaustion must fail every token exactly once")

	counters := dispatcher.Counters()
	assert.Equal(t, int64(1), counters.Failed)
	assert.Equal(t, int64(2), counters.Retries)
	assert.Equal(t, 3, client.GetPutCalls(), "MaxAttempts bounds the attempt count")
}

func TestDispatcher_FatalErrorSkipsRetries(t *testing.T) {
	probe := &deliveryProbe{}
	client := &mockObjectStoreClient{
		RetryableFn: func(_ error) bool { return false },
	}
	client.PutObjectFn = func(_ context.Context, _ *Request) error {
		return errors.New("access denied")
	}
	dispatcher := NewDispatcher(fastRetryConfig(5), client, zerolog.Nop())
	dispatcher.Start()

	dispatcher.Submit(newTestRequest("logs/archive_denied.json.gz", 1, probe))
	dispatcher.Stop()

	acks, nacks := probe.Counts()
	assert.Zero(t, acks)
	assert.Equal(t, 1, nacks)

	counters := dispatcher.Counters()
	assert.Equal(t, int64(1), counters.Failed)
	assert.Zero(t, counters.Retries, "a fatal error must not burn retry attempts")
	assert.Equal(t, 1, client.GetPutCalls())
}

func TestDispatcher_AbortFailsInFlightAndQueuedRequests(t *testing.T) {
	stuckProbe := &deliveryProbe{}
	queuedProbe := &deliveryProbe{}
	started := make(chan struct{})
	var once sync.Once
	client := &mockObjectStoreClient{
		RetryableFn: func(err error) bool { return !errors.Is(err, context.Canceled) },
	}
	client.PutObjectFn = func(ctx context.Context, _ *Request) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	dispatcher := NewDispatcher(fastRetryConfig(5), client, zerolog.Nop())
	dispatcher.Start()

	dispatcher.Submit(newTestRequest("logs/archive_stuck.json.gz", 2, stuckProbe))
	dispatcher.Submit(newTestRequest("logs/archive_queued.json.gz", 1, queuedProbe))

	<-started
	dispatcher.Abort()
	dispatcher.Stop()

	acks, nacks := stuckProbe.Counts()
	assert.Zero(t, acks)
	assert.Equal(t, 2, nacks, "the in-flight request's tokens must fail on abort")

	acks, nacks = queuedProbe.Counts()
	assert.Zero(t, acks)
	assert.Equal(t, 1, nacks, "queued requests must fail fast instead of attempting")

	assert.Equal(t, 1, client.GetPutCalls(), "the queued request must never reach the backend")
	assert.Equal(t, int64(2), dispatcher.Counters().Failed)
}

func TestDispatcher_PanickingClientStillResolvesTokens(t *testing.T) {
	probe := &deliveryProbe{}
	var calls atomic.Int32
	client := &mockObjectStoreClient{}
	client.PutObjectFn = func(_ context.Context, _ *Request) error {
		if calls.Add(1) == 1 {
			panic("backend client bug")
		}
		return nil
	}
	dispatcher := NewDispatcher(fastRetryConfig(3), client, zerolog.Nop())
	dispatcher.Start()

	dispatcher.Submit(newTestRequest("logs/archive_panic.json.gz", 1, probe))
	dispatcher.Submit(newTestRequest("logs/archive_after.json.gz", 1, probe))
	dispatcher.Stop()

	acks, nacks := probe.Counts()
	assert.Equal(t, 1, acks, "the request after the panic should still deliver")
	assert.Equal(t, 1, nacks, "the panicking request's tokens must resolve failed")

	counters := dispatcher.Counters()
	assert.Equal(t, int64(1), counters.Delivered)
	assert.Equal(t, int64(1), counters.Failed)
}
