package wsrpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestCallTableSerialsAreEvenAndIncreasing(t *testing.T) {
	ct := NewCallTable(time.Second)
	s1, _ := ct.Register()
	s2, _ := ct.Register()
	s3, _ := ct.Register()

	if s1 != 0 || s2 != 2 || s3 != 4 {
		t.Fatalf("expected 0,2,4, got %d,%d,%d", s1, s2, s3)
	}
}

func TestCallTableCompleteResolvesFuture(t *testing.T) {
	ct := NewCallTable(time.Second)
	serial, fut := ct.Register()

	if !ct.Complete(serial, json.RawMessage(`{"ok":true}`)) {
		t.Fatal("expected Complete to find the pending call")
	}

	value, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := value.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("unexpected resolved value: %#v", value)
	}
}

func TestCallTableCompleteIsOneShot(t *testing.T) {
	ct := NewCallTable(time.Second)
	serial, fut := ct.Register()

	ct.Complete(serial, json.RawMessage(`1`))
	// A second completion for the same serial has nothing to find: the
	// entry was already removed on first Complete.
	if ct.Complete(serial, json.RawMessage(`2`)) {
		t.Fatal("expected second Complete to report no pending call")
	}

	value, err := fut.Wait(context.Background())
	if err != nil || value != float64(1) {
		t.Fatalf("future should still hold its first resolution, got %#v, %v", value, err)
	}
}

func TestCallTableRejectCarriesKindAndMessage(t *testing.T) {
	ct := NewCallTable(time.Second)
	serial, fut := ct.Register()

	ct.Reject(serial, KindHandlerError, "boom")

	_, err := fut.Wait(context.Background())
	rerr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rerr.Kind != KindHandlerError || rerr.Message != "boom" {
		t.Fatalf("unexpected error: %+v", rerr)
	}
}

func TestCallTableCancelAllRejectsEveryPending(t *testing.T) {
	ct := NewCallTable(time.Second)
	_, fut1 := ct.Register()
	_, fut2 := ct.Register()

	ct.CancelAll("connection closed")

	for _, fut := range []*Future{fut1, fut2} {
		_, err := fut.Wait(context.Background())
		rerr, ok := err.(*RPCError)
		if !ok || rerr.Kind != KindConnectionClosed {
			t.Fatalf("expected ConnectionClosed, got %v", err)
		}
	}
}

func TestCallTableInboundGuardIsPerSerial(t *testing.T) {
	ct := NewCallTable(time.Millisecond)
	g1 := ct.InboundGuard(10)
	g2 := ct.InboundGuard(10)
	g3 := ct.InboundGuard(11)

	if g1 != g2 {
		t.Fatal("expected the same mutex for the same serial")
	}
	if g1 == g3 {
		t.Fatal("expected distinct mutexes for distinct serials")
	}
}
