package wsrpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the per-connection state machine: it owns the Codec,
// CallTable, Executor, and KeepAlive, and implements the message dispatch
// loop of spec.md §4.6. Session state (routes map, closed flag) is only
// ever mutated under mu, from dispatch goroutines, keepalive timers and
// Close alike; a parallel Go runtime needs that mutex where the original's
// cooperative single-thread model needed none.
type Session struct {
	ID     string
	server *Server

	transport Transport
	codec     *Codec
	calls     *CallTable
	executor  Executor
	keepalive *KeepAlive
	logger    *zap.Logger

	mu        sync.Mutex
	routes    map[string]*RouteInstance
	closed    bool
	closeOnce sync.Once
}

func newSession(server *Server, transport Transport, compression bool) *Session {
	id := uuid.NewString()
	keepaliveTimeout, clientTimeout := currentKeepaliveConfig()
	logger := server.logger.With(zap.String("session_id", id))

	s := &Session{
		ID:        id,
		server:    server,
		transport: transport,
		codec:     NewCodec(compression),
		calls:     NewCallTable(clientTimeout),
		logger:    logger,
		routes:    make(map[string]*RouteInstance),
	}
	if server.threaded {
		s.executor = NewThreadedExecutor(logger)
	} else {
		s.executor = NewCooperativeExecutor(logger)
	}
	s.keepalive = newKeepAlive(s, logger, keepaliveTimeout, clientTimeout)
	return s
}

// serve runs the dispatch loop until the transport closes. It is the
// Opening -> Open transition (registration, first ping) followed by the
// Open -> Open loop of spec.md §4.6; the deferred closeWithReason is the
// Open/Closing -> Closed transition.
func (s *Session) serve() {
	s.server.conns.add(s)
	s.logger.Info("session opened")

	if s.transport != nil {
		s.transport.SetPongHandler(func(token [8]byte) {
			s.keepalive.onPong(binary.BigEndian.Uint64(token[:]))
		})
	}
	s.keepalive.start()

	defer s.closeWithReason(KindConnectionClosed, "transport closed")

	for {
		payload, err := s.transport.ReadMessage()
		if err != nil {
			return
		}
		go s.dispatchFrame(payload)
	}
}

// dispatchFrame decodes one inbound frame and processes it under that
// serial's inbound mutex, per spec.md §4.6 steps 1-4. Two frames with
// distinct serials may run their handlers concurrently; the mutex only
// ensures that a given serial's response is emitted exactly once, in order
// relative to that serial's own request.
func (s *Session) dispatchFrame(payload []byte) {
	frame, rpcErr := s.codec.Decode(payload)
	if rpcErr != nil {
		s.sendError(-1, rpcErr)
		return
	}

	guard := s.calls.InboundGuard(frame.Serial)
	guard.Lock()
	defer func() {
		guard.Unlock()
		s.calls.ReleaseGuard(frame.Serial)
	}()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	switch frame.Type {
	case FrameCall:
		s.handleCall(frame)
	case FrameCallback:
		if !s.calls.Complete(frame.Serial, frame.Data) {
			s.logger.Warn("callback for unknown serial", zap.Int64("serial", frame.Serial))
		}
	case FrameError:
		s.handleErrorFrame(frame)
	default:
		s.sendError(frame.Serial, newRPCError(KindMalformedFrame, "unknown frame type %q", frame.Type))
	}
}

func (s *Session) handleCall(frame *Frame) {
	handler, rpcErr := s.server.registry.resolve(s, frame.Call)
	if rpcErr != nil {
		s.sendError(frame.Serial, rpcErr)
		return
	}

	args, rpcErr := normalizeArguments(frame.Arguments)
	if rpcErr != nil {
		s.sendError(frame.Serial, rpcErr)
		return
	}

	// Waiting here keeps the response send on the dispatch goroutine, under
	// the serial's inbound guard, for both executor variants.
	value, err := s.executor.Run(handler, args).Wait(context.Background())
	if err != nil {
		s.sendError(frame.Serial, toRPCError(err))
		return
	}
	s.sendCallback(frame.Serial, value)
}

func (s *Session) handleErrorFrame(frame *Frame) {
	var structured struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Data, &structured); err != nil || structured.Type == "" {
		var legacy string
		if err2 := json.Unmarshal(frame.Data, &legacy); err2 == nil {
			structured.Type = KindHandlerError
			structured.Message = legacy
		}
	}
	if !s.calls.Reject(frame.Serial, structured.Type, structured.Message) {
		s.logger.Warn("error frame for unknown serial", zap.Int64("serial", frame.Serial))
	}
}

// normalizeArguments validates the "arguments" shape of spec.md §4.1: null,
// list, object, or a single scalar are all accepted; anything not valid
// JSON is rejected as BadArguments. Unlike the dynamically-typed original,
// handlers decode the raw payload into whatever Go type they expect rather
// than receiving positional/keyword-split arguments.
func normalizeArguments(raw json.RawMessage) (json.RawMessage, *RPCError) {
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, newRPCError(KindBadArguments, "empty arguments")
	}
	if !json.Valid(trimmed) {
		return nil, newRPCError(KindBadArguments, "arguments is not valid JSON")
	}
	return raw, nil
}

func toRPCError(err error) *RPCError {
	if rerr, ok := err.(*RPCError); ok {
		return rerr
	}
	return &RPCError{Kind: KindHandlerError, Message: err.Error()}
}

func (s *Session) sendCallback(serial int64, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.sendError(serial, newRPCError(KindHandlerError, "result not JSON-marshalable: %v", err))
		return
	}
	s.send(&Frame{Type: FrameCallback, Serial: serial, Data: data})
}

func (s *Session) sendError(serial int64, rpcErr *RPCError) {
	data, _ := json.Marshal(map[string]string{"type": rpcErr.Kind, "message": rpcErr.Message})
	s.send(&Frame{Type: FrameError, Serial: serial, Data: data})
}

func (s *Session) send(frame *Frame) {
	payload, err := s.codec.Encode(frame)
	if err != nil {
		s.logger.Error("encode frame failed", zap.Error(err))
		return
	}
	if err := s.transport.WriteMessage(payload); err != nil {
		s.logger.Warn("write frame failed, closing session", zap.Error(err))
		s.closeWithReason(KindConnectionClosed, "write failed")
	}
}

// Call allocates an outbound serial, sends a "call" frame for name, and
// returns the Future tracking its eventual callback/error. If onDone is
// non-nil it is registered as a completion callback on the Future.
func (s *Session) Call(name string, args any, onDone func(value any, err error)) *Future {
	serial, fut := s.calls.Register()
	argBytes, err := json.Marshal(args)
	if err != nil {
		fut.reject(newRPCError(KindBadArguments, "arguments not JSON-marshalable: %v", err))
		return fut
	}
	if onDone != nil {
		fut.OnDone(onDone)
	}
	s.send(&Frame{Type: FrameCall, Serial: serial, Call: name, Arguments: argBytes})
	return fut
}

// routeInstance returns the cached RouteInstance for route, creating it
// via factory on first resolution (spec.md §3 RouteInstance: "Created
// lazily on first resolution").
func (s *Session) routeInstance(route string, factory RouteFactory) *RouteInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.routes[route]
	if !ok {
		inst = factory(s)
		s.routes[route] = inst
	}
	return inst
}

// Close terminates the session explicitly (spec.md §4.6's "explicit
// close()" trigger for Open -> Closing).
func (s *Session) Close() {
	s.closeWithReason(KindConnectionClosed, "closed by application")
}

// closeWithReason runs the Closing -> Closed transition exactly once:
// every unresolved PendingCall is cancelled, every RouteInstance receives
// its single OnClose, and the session is deregistered.
func (s *Session) closeWithReason(kind, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		routes := make([]*RouteInstance, 0, len(s.routes))
		for _, r := range s.routes {
			routes = append(routes, r)
		}
		s.mu.Unlock()

		s.keepalive.stop()
		s.calls.CancelAll(reason)

		for _, r := range routes {
			s.notifyRouteClose(r)
		}

		if s.transport != nil {
			_ = s.transport.Close()
		}
		s.server.conns.remove(s.ID)
		s.logger.Info("session closed", zap.String("kind", kind), zap.String("reason", reason))
	})
}

// notifyRouteClose invokes a route's OnClose hook, logging and swallowing
// any panic so the remaining routes still get their notification
// (spec.md §7's propagation policy for on_close hooks).
func (s *Session) notifyRouteClose(r *RouteInstance) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("route OnClose panicked", zap.Any("recover", rec))
		}
	}()
	r.notifyClose()
}
