package wsrpc

import (
	"context"
	"sync"
)

// Future is a single-shot result slot with three terminal states: resolved,
// rejected, or cancelled (rejected with ConnectionClosed on session close).
// Exactly one terminal transition ever happens; later calls are no-ops,
// satisfying the at-most-once delivery invariant of spec.md §3/§8.
type Future struct {
	mu        sync.Mutex
	done      bool
	value     any
	err       error
	ch        chan struct{}
	callbacks []func(any, error)
}

func newFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

func (f *Future) complete(value any, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.value = value
	f.err = err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.ch)
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(value, err)
	}
}

func (f *Future) resolve(value any) { f.complete(value, nil) }
func (f *Future) reject(err error)  { f.complete(nil, err) }

// OnDone registers a completion callback, invoked synchronously if the
// Future is already resolved.
func (f *Future) OnDone(cb func(value any, err error)) {
	f.mu.Lock()
	if f.done {
		value, err := f.value, f.err
		f.mu.Unlock()
		cb(value, err)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Wait blocks until the Future is resolved, rejected, or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.ch:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
