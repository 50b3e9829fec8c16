package proc

import (
	"context"
	"sync"
)

// Future is an asynchronous value that emits incremental progress updates of
// type U before settling on a single terminal result of type R. The first
// resolution wins; later resolutions and updates are dropped silently.
type Future[U, R any] struct {
	mu        sync.Mutex
	updateFns []func(U)
	finishFns []func(R)
	result    R
	finished  bool
	done      chan struct{}
}

// NewFuture spawns worker on its own goroutine. The worker reports progress
// through emit and its return value resolves the future.
func NewFuture[U, R any](worker func(emit func(U)) R) *Future[U, R] {
	f := &Future[U, R]{done: make(chan struct{})}
	go func() {
		f.ForceFinish(worker(f.emit))
	}()
	return f
}

// ResolvedFuture returns an already-finished future carrying r. No worker
// runs and no updates are ever emitted.
func ResolvedFuture[U, R any](r R) *Future[U, R] {
	f := &Future[U, R]{done: make(chan struct{})}
	f.result = r
	f.finished = true
	close(f.done)
	return f
}

// OnUpdate subscribes to progress updates. Updates emitted before the
// subscription are not replayed.
func (f *Future[U, R]) OnUpdate(fn func(U)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return
	}
	f.updateFns = append(f.updateFns, fn)
}

// OnFinish subscribes to the terminal result. If the future already finished,
// fn is invoked synchronously with the stored result before returning.
func (f *Future[U, R]) OnFinish(fn func(R)) {
	f.mu.Lock()
	if f.finished {
		r := f.result
		f.mu.Unlock()
		fn(r)
		return
	}
	f.finishFns = append(f.finishFns, fn)
	f.mu.Unlock()
}

// ForceFinish resolves the future with r. Only the first call has any effect.
func (f *Future[U, R]) ForceFinish(r R) {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return
	}
	f.result = r
	f.finished = true
	fns := f.finishFns
	f.finishFns = nil
	f.updateFns = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}

func (f *Future[U, R]) emit(u U) {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return
	}
	fns := make([]func(U), len(f.updateFns))
	copy(fns, f.updateFns)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// Await blocks until the future resolves or ctx is cancelled.
func (f *Future[U, R]) Await(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future has resolved.
func (f *Future[U, R]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[U, R]) Finished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}
