package syncutil

import (
	"context"
)

// ContextMutex is a mutex implemented via a buffered channel so waiters can
// give up when their context is cancelled.
type ContextMutex struct {
	ch chan struct{}
}

// NewContextMutex creates an unlocked mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{} // Start unlocked.
	return m
}

// LockContext acquires the mutex, respecting context cancellation.
// On success, returns an unlock function and nil error. The caller MUST call
// the unlock function when done.
// On context cancellation, returns nil and the context error.
func (m *ContextMutex) LockContext(ctx context.Context) (func(), error) {
	select {
	case <-m.ch:
		return func() { m.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
