package types

import (
	"sync"
)

// Finalizer resolves one event's delivery token exactly once. Upstream
// sources tolerate neither dropped nor doubled resolutions: a dropped token
// stalls redelivery forever, a doubled one can acknowledge an event that was
// never stored. All paths after the token is taken from its message must go
// through a Finalizer.
type Finalizer struct {
	once sync.Once
	ack  func()
	nack func()
}

// NewFinalizer wraps an Ack/Nack pair. Nil functions are tolerated so test
// fixtures and sourceless events do not need stubs.
func NewFinalizer(ack, nack func()) *Finalizer {
	return &Finalizer{ack: ack, nack: nack}
}

// Resolve marks the event delivered (ok) or failed (!ok). Calls after the
// first are no-ops.
func (f *Finalizer) Resolve(ok bool) {
	f.once.Do(func() {
		if ok {
			if f.ack != nil {
				f.ack()
			}
			return
		}
		if f.nack != nil {
			f.nack()
		}
	})
}

// Finalizers aggregates the delivery tokens of all events in one batch. A
// batch is acknowledged or failed as a unit; tokens never move between
// batches.
type Finalizers struct {
	mu     sync.Mutex
	tokens []*Finalizer
}

// Add appends a token to the batch.
func (fs *Finalizers) Add(f *Finalizer) {
	if f == nil {
		return
	}
	fs.mu.Lock()
	fs.tokens = append(fs.tokens, f)
	fs.mu.Unlock()
}

// Merge moves all tokens out of other into fs, leaving other empty.
func (fs *Finalizers) Merge(other *Finalizers) {
	if other == nil {
		return
	}
	other.mu.Lock()
	taken := other.tokens
	other.tokens = nil
	other.mu.Unlock()

	fs.mu.Lock()
	fs.tokens = append(fs.tokens, taken...)
	fs.mu.Unlock()
}

// Len reports how many tokens the batch currently holds.
func (fs *Finalizers) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.tokens)
}

// Resolve resolves every token with the given outcome. Safe to call more
// than once; each token still fires at most once.
func (fs *Finalizers) Resolve(ok bool) {
	fs.mu.Lock()
	tokens := fs.tokens
	fs.mu.Unlock()
	for _, t := range tokens {
		t.Resolve(ok)
	}
}
