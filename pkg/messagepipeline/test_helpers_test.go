package messagepipeline_test

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-logarchive/pkg/types"
	"github.com/rs/zerolog/log"
)

// ====================================================================================
// This file contains mocks for the interfaces defined in this package. They
// are intended for unit tests of the pipeline and of services built on it.
// ====================================================================================

// --- MockEventSource ---

// MockEventSource is a mock implementation of the EventSource interface. It
// simulates a broker subscription with a buffered in-memory channel.
type MockEventSource struct {
	msgChan    chan types.ConsumedMessage
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	startMu    sync.Mutex
	startCount int
	stopCount  int
}

// NewMockEventSource creates a new mock source with a buffered channel.
func NewMockEventSource(bufferSize int) *MockEventSource {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockEventSource{
		msgChan:  make(chan types.ConsumedMessage, bufferSize),
		doneChan: make(chan struct{}),
	}
}

// Messages returns the read-only channel events arrive on.
func (m *MockEventSource) Messages() <-chan types.ConsumedMessage {
	return m.msgChan
}

// Start simulates the startup of a real source.
func (m *MockEventSource) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startCount++
	if m.startErr != nil {
		return m.startErr
	}
	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	return nil
}

// Stop closes the done and message channels, then drains the buffer and
// Nacks any outstanding messages the way a real source does on shutdown.
func (m *MockEventSource) Stop() error {
	m.stopOnce.Do(func() {
		m.startMu.Lock()
		m.stopCount++
		m.startMu.Unlock()

		close(m.doneChan)
		close(m.msgChan)

		for msg := range m.msgChan {
			log.Warn().Str("msg_id", msg.ID).Msg("MockEventSource draining and Nacking message on shutdown.")
			if msg.Nack != nil {
				msg.Nack()
			}
		}
	})
	return nil
}

// Done returns the channel that signals when the source has fully stopped.
func (m *MockEventSource) Done() <-chan struct{} {
	return m.doneChan
}

// Push is a test helper to inject a message into the mock source's channel.
func (m *MockEventSource) Push(msg types.ConsumedMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Msg("Recovered from panic trying to push to closed source channel.")
		}
	}()
	m.msgChan <- msg
}

// SetStartError configures the mock to return an error on Start().
func (m *MockEventSource) SetStartError(err error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startErr = err
}

// GetStartCount returns the number of times Start() was called.
func (m *MockEventSource) GetStartCount() int {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.startCount
}

// GetStopCount returns the number of times Stop() was called.
func (m *MockEventSource) GetStopCount() int {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.stopCount
}

// --- MockMessageSink ---

// MockMessageSink is a mock implementation of the MessageSink interface. It
// records every batched message it receives and leaves the delivery tokens
// untouched, as the real archive sink resolves them only after upload.
type MockMessageSink[T any] struct {
	InputChan    chan *types.BatchedMessage[T]
	Received     []*types.BatchedMessage[T]
	mu           sync.Mutex
	wg           sync.WaitGroup
	startCount   int
	stopCount    int
	processDelay time.Duration
}

// NewMockMessageSink creates a new mock sink.
func NewMockMessageSink[T any](bufferSize int) *MockMessageSink[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockMessageSink[T]{
		InputChan: make(chan *types.BatchedMessage[T], bufferSize),
		Received:  []*types.BatchedMessage[T]{},
	}
}

// Input returns the write-only channel for sending messages to the sink.
func (m *MockMessageSink[T]) Input() chan<- *types.BatchedMessage[T] {
	return m.InputChan
}

// Start begins draining the input channel.
func (m *MockMessageSink[T]) Start() {
	m.mu.Lock()
	m.startCount++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range m.InputChan {
			m.mu.Lock()
			delay := m.processDelay
			m.mu.Unlock()
			if delay > 0 {
				time.Sleep(delay)
			}
			m.mu.Lock()
			m.Received = append(m.Received, msg)
			m.mu.Unlock()
		}
	}()
}

// Stop closes the input channel and waits for the drain goroutine to finish.
func (m *MockMessageSink[T]) Stop() {
	m.mu.Lock()
	m.stopCount++
	m.mu.Unlock()
	close(m.InputChan)
	m.wg.Wait()
}

// GetReceived returns a copy of the messages received by the sink.
func (m *MockMessageSink[T]) GetReceived() []*types.BatchedMessage[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	receivedCopy := make([]*types.BatchedMessage[T], len(m.Received))
	copy(receivedCopy, m.Received)
	return receivedCopy
}

// GetStartCount returns the number of times Start() was called.
func (m *MockMessageSink[T]) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

// GetStopCount returns the number of times Stop() was called.
func (m *MockMessageSink[T]) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// SetProcessDelay introduces a delay before each received message is
// recorded, simulating a slow downstream stage.
func (m *MockMessageSink[T]) SetProcessDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processDelay = d
}

// --- messageTracker ---

// messageTracker records per-message Ack and Nack calls so tests can verify
// that every delivery token is resolved on exactly one path.
type messageTracker struct {
	mu     sync.Mutex
	acked  map[string]bool
	nacked map[string]bool
}

func newMessageTracker() *messageTracker {
	return &messageTracker{
		acked:  make(map[string]bool),
		nacked: make(map[string]bool),
	}
}

// message builds a ConsumedMessage whose token callbacks report back to the
// tracker.
func (tr *messageTracker) message(id string, payload []byte) types.ConsumedMessage {
	return types.ConsumedMessage{
		ID:      id,
		Payload: payload,
		Ack: func() {
			tr.mu.Lock()
			tr.acked[id] = true
			tr.mu.Unlock()
		},
		Nack: func() {
			tr.mu.Lock()
			tr.nacked[id] = true
			tr.mu.Unlock()
		},
	}
}

func (tr *messageTracker) IsAcked(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.acked[id]
}

func (tr *messageTracker) IsNacked(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.nacked[id]
}

func (tr *messageTracker) AckCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.acked)
}

func (tr *messageTracker) NackCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.nacked)
}
