package transport

import (
	"context"
	"sync"
)

// Future is a single-assignment completion slot. The first Resolve wins; later
// calls are ignored.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future and reports whether this call did so.
func (f *Future[T]) Resolve(val T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has been resolved, without blocking.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future[T]) Result() (T, error) {
	return f.val, f.err
}

// Wait blocks until the future is resolved or ctx is done. Giving up on the
// wait does not cancel the underlying request.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
