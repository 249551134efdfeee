package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCooperativeExecutorRunsInline(t *testing.T) {
	e := NewCooperativeExecutor(zap.NewNop())
	var ran int32

	fut := e.Run(func(args json.RawMessage) (any, error) {
		atomic.AddInt32(&ran, 1)
		return "ok", nil
	}, nil)

	// Cooperative execution is synchronous: the result is already there.
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("expected handler to have run inline before Run returned")
	}
	value, err := fut.Wait(context.Background())
	if err != nil || value != "ok" {
		t.Fatalf("unexpected result: %v, %v", value, err)
	}
}

func TestCooperativeExecutorCapturesPanic(t *testing.T) {
	e := NewCooperativeExecutor(zap.NewNop())
	fut := e.Run(func(args json.RawMessage) (any, error) {
		panic("boom")
	}, nil)

	_, err := fut.Wait(context.Background())
	rerr, ok := err.(*RPCError)
	if !ok || rerr.Kind != KindHandlerError {
		t.Fatalf("expected captured HandlerError, got %v", err)
	}
}

func TestCooperativeExecutorFlattensNestedFuture(t *testing.T) {
	e := NewCooperativeExecutor(zap.NewNop())
	inner := newFuture()

	fut := e.Run(func(args json.RawMessage) (any, error) {
		return inner, nil
	}, nil)

	inner.resolve("inner-value")

	value, err := fut.Wait(context.Background())
	if err != nil || value != "inner-value" {
		t.Fatalf("expected flattened inner value, got %v, %v", value, err)
	}
}

func TestThreadedExecutorBoundsConcurrency(t *testing.T) {
	InitPool(2)
	defer InitPool(0)

	e := NewThreadedExecutor(zap.NewNop())

	var inFlight, maxInFlight int32
	release := make(chan struct{})

	run := func() *Future {
		return e.Run(func(args json.RawMessage) (any, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		}, nil)
	}

	futs := make([]*Future, 5)
	for i := range futs {
		futs[i] = run()
	}

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&inFlight); got > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, observed %d", got)
	}

	close(release)
	for _, fut := range futs {
		if _, err := fut.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if atomic.LoadInt32(&maxInFlight) > 2 {
		t.Fatalf("pool exceeded its bound: max in flight %d", maxInFlight)
	}
}

func TestThreadedExecutorCapturesHandlerError(t *testing.T) {
	InitPool(2)
	defer InitPool(0)

	e := NewThreadedExecutor(zap.NewNop())
	wantErr := errors.New("handler failed")
	fut := e.Run(func(args json.RawMessage) (any, error) {
		return nil, wantErr
	}, nil)

	_, err := fut.Wait(context.Background())
	if err == nil || err.Error() != wantErr.Error() {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
}
