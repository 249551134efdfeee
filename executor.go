package wsrpc

import (
	"context"
	"encoding/json"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Executor runs a resolved handler and normalizes its sync/async return
// into a single Future, per spec.md §4.4. Both variants guarantee the
// Future resolves at most once and that a handler panic is captured into a
// HandlerError rather than raised to the dispatch loop.
type Executor interface {
	Run(handler handlerFunc, args json.RawMessage) *Future
}

// runCaptured invokes handler, recovering a panic into a HandlerError and
// flattening one level of nested *Future, matching the teacher's pattern of
// turning every handler failure into a returned error rather than a crash.
func runCaptured(handler handlerFunc, args json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rpcErrorFromPanic(r)
		}
	}()
	value, err = handler(args)
	if err != nil {
		return nil, err
	}
	if nested, ok := value.(*Future); ok {
		return nested.Wait(context.Background())
	}
	return value, nil
}

// CooperativeExecutor invokes the handler inline on the caller's goroutine,
// with no pool. Session dispatches every inbound frame on its own goroutine,
// so handlers for different frames of one session can still run in
// parallel and are not ordered FIFO.
type CooperativeExecutor struct {
	logger *zap.Logger
}

// NewCooperativeExecutor builds a CooperativeExecutor.
func NewCooperativeExecutor(logger *zap.Logger) *CooperativeExecutor {
	return &CooperativeExecutor{logger: logger}
}

// Run implements Executor.
// A nested *Future returned by the handler is chained rather than waited
// on, so Run returns without blocking on it.
func (e *CooperativeExecutor) Run(handler handlerFunc, args json.RawMessage) *Future {
	fut := newFuture()
	var nested *Future
	value, err := runCaptured(func(args json.RawMessage) (any, error) {
		v, err := handler(args)
		if n, ok := v.(*Future); ok && err == nil {
			nested = n
			return nil, nil
		}
		return v, err
	}, args)
	switch {
	case err != nil:
		fut.reject(err)
	case nested != nil:
		nested.OnDone(fut.complete)
	default:
		fut.resolve(value)
	}
	return fut
}

// pool is the process-wide bounded worker pool shared by every Threaded
// session. defaultPool is created at package initialization with
// runtime.NumCPU() workers, not on first use; InitPool replaces it.
type pool struct {
	sem *semaphore.Weighted
}

var defaultPool = newPool(runtime.NumCPU())

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(size))}
}

// InitPool reconfigures the size of the process-wide threaded worker pool.
// Matches spec.md §6's init_pool(workers). A ThreadedExecutor keeps the pool
// it was built with, so only sessions created after the call use the new
// size.
func InitPool(workers int) {
	defaultPool = newPool(workers)
}

// ThreadedExecutor submits the handler to the shared bounded worker pool;
// the Future is resolved on whichever goroutine the pool schedules, and
// Session state must only be mutated after bouncing back onto the caller's
// dispatch goroutine by waiting on the Future (done by Session.handleCall,
// not here).
type ThreadedExecutor struct {
	pool   *pool
	logger *zap.Logger
}

// NewThreadedExecutor builds a ThreadedExecutor backed by the shared pool.
func NewThreadedExecutor(logger *zap.Logger) *ThreadedExecutor {
	return &ThreadedExecutor{pool: defaultPool, logger: logger}
}

// Run implements Executor.
func (e *ThreadedExecutor) Run(handler handlerFunc, args json.RawMessage) *Future {
	fut := newFuture()
	ctx := context.Background()

	go func() {
		if err := e.pool.sem.Acquire(ctx, 1); err != nil {
			fut.reject(newRPCError(KindHandlerError, "worker pool unavailable: %v", err))
			return
		}
		defer e.pool.sem.Release(1)
		value, err := runCaptured(handler, args)
		if err != nil {
			fut.reject(err)
		} else {
			fut.resolve(value)
		}
	}()

	return fut
}
