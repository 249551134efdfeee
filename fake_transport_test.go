package wsrpc

import (
	"io"
	"sync"
)

// fakeTransport is an in-memory Transport used by unit tests that exercise
// Session/KeepAlive/CallTable behavior without a real network socket.
type fakeTransport struct {
	mu                  sync.Mutex
	inbox               chan []byte
	outbox              chan []byte
	pongHandler         func(token [8]byte)
	closed              bool
	supportsControlPing bool
	pingsSent           [][8]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:               make(chan []byte, 32),
		outbox:              make(chan []byte, 32),
		supportsControlPing: true,
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	b, ok := <-f.inbox
	if !ok {
		return nil, io.EOF
	}
	return b, nil
}

func (f *fakeTransport) WriteMessage(payload []byte) error {
	f.outbox <- payload
	return nil
}

func (f *fakeTransport) SendPing(token [8]byte) error {
	f.mu.Lock()
	f.pingsSent = append(f.pingsSent, token)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SupportsControlPing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supportsControlPing
}

func (f *fakeTransport) SetPongHandler(fn func(token [8]byte)) {
	f.pongHandler = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.inbox)
		f.closed = true
	}
	return nil
}

// deliver feeds an inbound frame to the session's dispatch loop.
func (f *fakeTransport) deliver(payload []byte) {
	f.inbox <- payload
}
