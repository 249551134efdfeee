package wsrpc

import (
	"encoding/json"
	"sync"
	"time"
)

// CallTable tracks outstanding outbound calls keyed by serial and owns the
// per-serial mutex used to guard inbound dispatch (spec.md §3/§4.3).
type CallTable struct {
	// parity fixes which half of the serial space this side owns: 0 for
	// the server (even serials), 1 for the client (odd serials). The
	// server side is the one implemented here (spec.md §6's convention).
	parity int64

	mu         sync.Mutex
	nextSerial int64
	outbound   map[int64]*Future

	evictAfter time.Duration
	guards     map[int64]*sync.Mutex
}

// NewCallTable creates a CallTable for the server side of the serial
// convention (even serials starting at 0). evictAfter bounds how long a
// per-serial inbound guard is retained after release, matching
// client_timeout per spec.md §9.
func NewCallTable(evictAfter time.Duration) *CallTable {
	return &CallTable{
		parity:     0,
		nextSerial: 0,
		outbound:   make(map[int64]*Future),
		evictAfter: evictAfter,
		guards:     make(map[int64]*sync.Mutex),
	}
}

// Register allocates the next outbound serial, strictly increasing and
// fixed-parity, and stores a pending Future for it.
func (ct *CallTable) Register() (serial int64, fut *Future) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	serial = ct.nextSerial
	ct.nextSerial += 2
	fut = newFuture()
	ct.outbound[serial] = fut
	return serial, fut
}

// Complete resolves the pending call for serial with value, decoded from
// data. Reports whether a pending call existed.
func (ct *CallTable) Complete(serial int64, data json.RawMessage) bool {
	fut, ok := ct.take(serial)
	if !ok {
		return false
	}
	var value any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &value)
	}
	fut.resolve(value)
	return true
}

// Reject rejects the pending call for serial with a structured RPCError.
// Reports whether a pending call existed.
func (ct *CallTable) Reject(serial int64, kind, message string) bool {
	fut, ok := ct.take(serial)
	if !ok {
		return false
	}
	fut.reject(&RPCError{Kind: kind, Message: message})
	return true
}

func (ct *CallTable) take(serial int64) (*Future, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	fut, ok := ct.outbound[serial]
	if ok {
		delete(ct.outbound, serial)
	}
	return fut, ok
}

// CancelAll terminates every pending call with ConnectionClosed, called
// once during Session teardown.
func (ct *CallTable) CancelAll(reason string) {
	ct.mu.Lock()
	pending := ct.outbound
	ct.outbound = make(map[int64]*Future)
	ct.mu.Unlock()

	for _, fut := range pending {
		fut.reject(&RPCError{Kind: KindConnectionClosed, Message: reason})
	}
}

// InboundGuard returns the mutex exclusive to serial, creating it if this
// is the first inbound frame seen for that serial.
func (ct *CallTable) InboundGuard(serial int64) *sync.Mutex {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	m, ok := ct.guards[serial]
	if !ok {
		m = &sync.Mutex{}
		ct.guards[serial] = m
	}
	return m
}

// ReleaseGuard schedules eviction of serial's inbound mutex after
// evictAfter has elapsed since release, so long-lived sessions do not
// accumulate unbounded per-serial locks (spec.md §4.6 step 4).
func (ct *CallTable) ReleaseGuard(serial int64) {
	time.AfterFunc(ct.evictAfter, func() {
		ct.mu.Lock()
		delete(ct.guards, serial)
		ct.mu.Unlock()
	})
}
