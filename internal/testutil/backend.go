package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/posture/internal/ir"
)

// RecordingBackend is an action executor that records every call and can be
// told to fail, hang or panic per action.
//
// It satisfies engine.Executor; use one instance for every action of a
// table so call order across actions is preserved.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingBackend struct {
	mu     sync.Mutex
	calls  []ir.ActionName
	fail   map[ir.ActionName]string
	hang   map[ir.ActionName]bool
	panics map[ir.ActionName]bool
	delay  time.Duration
}

// NewRecordingBackend creates a backend where every action succeeds.
func NewRecordingBackend() *RecordingBackend {
	return &RecordingBackend{
		fail:   make(map[ir.ActionName]string),
		hang:   make(map[ir.ActionName]bool),
		panics: make(map[ir.ActionName]bool),
	}
}

// Fail makes action return an error with message.
func (b *RecordingBackend) Fail(action ir.ActionName, message string) *RecordingBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[action] = message
	return b
}

// Hang makes action block until its context is done.
func (b *RecordingBackend) Hang(action ir.ActionName) *RecordingBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hang[action] = true
	return b
}

// Panic makes action panic.
func (b *RecordingBackend) Panic(action ir.ActionName) *RecordingBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.panics[action] = true
	return b
}

// Delay makes every action sleep for d (or until cancelled) before returning.
func (b *RecordingBackend) Delay(d time.Duration) *RecordingBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
	return b
}

// Execute records the call and behaves as configured.
func (b *RecordingBackend) Execute(ctx context.Context, action ir.ActionName) error {
	b.mu.Lock()
	b.calls = append(b.calls, action)
	msg, fails := b.fail[action]
	hangs := b.hang[action]
	panics := b.panics[action]
	delay := b.delay
	b.mu.Unlock()

	if panics {
		panic("recording backend: " + string(action))
	}
	if hangs {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fails {
		return errors.New(msg)
	}
	return nil
}

// Calls returns the actions executed so far, in order.
func (b *RecordingBackend) Calls() []ir.ActionName {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ir.ActionName, len(b.calls))
	copy(out, b.calls)
	return out
}

// Reset forgets recorded calls.
func (b *RecordingBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}
