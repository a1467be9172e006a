package dispatch

import (
	"context"
	"sync"
)

// Future is the eventual result of a task submitted through a Dispatcher.
// It completes exactly once; later completions are ignored.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error

	mu      sync.Mutex
	release func() bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// complete stores the outcome if the future is still open and reports
// whether this call won.
func (f *Future[T]) complete(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
		won = true
	})
	if won {
		f.mu.Lock()
		release := f.release
		f.release = nil
		f.mu.Unlock()
		if release != nil {
			release()
		}
	}
	return won
}

func (f *Future[T]) fail(err error) bool {
	var zero T
	return f.complete(zero, err)
}

// failWhenDone fails the future with err once ctx is cancelled, unless it
// completes first.
func (f *Future[T]) failWhenDone(ctx context.Context, err error) {
	stop := context.AfterFunc(ctx, func() { f.fail(err) })
	f.mu.Lock()
	if f.IsDone() {
		f.mu.Unlock()
		stop()
		return
	}
	f.release = stop
	f.mu.Unlock()
}

// Done is closed once the future has completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while the
// future is still open.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	if !f.IsDone() {
		return value, nil, false
	}
	return f.value, f.err, true
}
