package wsrpc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the external collaborator spec.md §1 scopes out of the
// core: the framing library providing open/message/close/pong callbacks
// and a send-frame/send-ping primitive. wsTransport is the one concrete
// implementation, over gorilla/websocket (the teacher's own choice).
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	SendPing(token [8]byte) error
	SupportsControlPing() bool
	SetPongHandler(fn func(token [8]byte))
	Close() error
}

// wsTransport adapts a *websocket.Conn to Transport. Per gorilla's
// concurrency note (echoed verbatim in the bidirectional-RPC examples in
// the retrieval pack: "only one concurrent reader and one concurrent
// writer are allowed"), all writes — text frames and control pings alike —
// share a single mutex.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// newWSTransport wraps conn, enabling per-message write compression when
// the session negotiated permessage-deflate (spec.md §4.1/§4.8). Gorilla's
// own permessage-deflate implementation is used rather than a hand-rolled
// raw-deflate codec, since the library already negotiates and frames it.
func newWSTransport(conn *websocket.Conn, compression bool) *wsTransport {
	if compression {
		conn.EnableWriteCompression(true)
	}
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, payload, err := t.conn.ReadMessage()
	return payload, err
}

func (t *wsTransport) WriteMessage(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) SendPing(token [8]byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, token[:], time.Now().Add(5*time.Second))
}

func (t *wsTransport) SupportsControlPing() bool { return true }

func (t *wsTransport) SetPongHandler(fn func(token [8]byte)) {
	t.conn.SetPongHandler(func(data string) error {
		var token [8]byte
		copy(token[:], data)
		fn(token)
		return nil
	})
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
