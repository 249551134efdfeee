package wsrpc

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestHTTPServer(t *testing.T, server *Server) (*httptest.Server, string) {
	t.Helper()
	e := SetupEchoServer()
	SetupRPCEndpoint(e, "/ws", server)
	httpSrv := httptest.NewServer(e)
	t.Cleanup(httpSrv.Close)
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	return httpSrv, wsURL
}

// TestSessionEchoRoundTrip dials a real WebSocket connection against the
// Echo-wired server and exercises scenario 1 end to end.
func TestSessionEchoRoundTrip(t *testing.T) {
	registry := NewRouteRegistry()
	if err := registry.RegisterRoute("R", func(s *Session) *RouteInstance {
		route := NewRouteInstance()
		route.Method("simple_method", func(args json.RawMessage) (any, error) {
			var kw map[string]any
			if err := json.Unmarshal(args, &kw); err != nil {
				return nil, err
			}
			return kw, nil
		})
		return route
	}); err != nil {
		t.Fatal(err)
	}

	server := NewServer(registry, WithLogger(zap.NewNop()))
	_, wsURL := newTestHTTPServer(t, server)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call","serial":1,"call":"R.simple_method","arguments":{"a":1,"b":2}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame struct {
		Type   string          `json:"type"`
		Serial int64           `json:"serial"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if frame.Type != "callback" || frame.Serial != 1 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	var data map[string]float64
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["a"] != 1 || data["b"] != 2 {
		t.Fatalf("unexpected echoed data: %+v", data)
	}
}

// scenario 5: bidirectional, server-initiated call resolved by the client's
// own callback frame.
func TestSessionServerInitiatedCallResolvesViaClientCallback(t *testing.T) {
	registry := NewRouteRegistry()
	server := NewServer(registry, WithLogger(zap.NewNop()))
	_, wsURL := newTestHTTPServer(t, server)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the session to register so Broadcast has somewhere to send.
	deadline := time.Now().Add(2 * time.Second)
	for server.Connections().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	server.Broadcast("client_notify", map[string]any{"greeting": "hi"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read server-initiated call: %v", err)
	}
	var frame struct {
		Type   string          `json:"type"`
		Serial int64           `json:"serial"`
		Call   string          `json:"call"`
		Args   json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != "call" || frame.Call != "client_notify" {
		t.Fatalf("unexpected server-initiated frame: %+v", frame)
	}
	// Server serials are even per spec.md's parity convention.
	if frame.Serial%2 != 0 {
		t.Fatalf("expected an even server-originated serial, got %d", frame.Serial)
	}

	reply := map[string]any{
		"type":   "callback",
		"serial": frame.Serial,
		"data":   "ack",
	}
	replyBytes, _ := json.Marshal(reply)
	if err := conn.WriteMessage(websocket.TextMessage, replyBytes); err != nil {
		t.Fatalf("write callback: %v", err)
	}

	// Give the dispatch loop a moment to process the callback and confirm
	// the pending call table entry is gone (no "unknown serial" lockup).
	time.Sleep(50 * time.Millisecond)
	sess := server.Connections().Snapshot()[0]
	sess.calls.mu.Lock()
	_, pending := sess.calls.outbound[frame.Serial]
	sess.calls.mu.Unlock()
	if pending {
		t.Fatalf("expected the client callback to resolve pending serial %d", frame.Serial)
	}
}

func TestSessionUnknownRouteReturnsMethodNotFoundOverWire(t *testing.T) {
	registry := NewRouteRegistry()
	server := NewServer(registry, WithLogger(zap.NewNop()))
	_, wsURL := newTestHTTPServer(t, server)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call","serial":1,"call":"Nope.method"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Type string `json:"type"`
		Data struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != "error" || frame.Data.Type != KindMethodNotFound {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}
