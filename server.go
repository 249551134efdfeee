package wsrpc

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AuthorizeFunc is the authorization hook of spec.md §6:
// authorize(session) -> bool, called once before completing the upgrade.
// It receives the raw HTTP request so it can inspect headers/cookies
// before a Session even exists.
type AuthorizeFunc func(r *http.Request) bool

// allowAll is the default Authorize hook: allow everything.
func allowAll(*http.Request) bool { return true }

// Server is the explicit, non-singleton collaborator spec.md §9 asks for in
// place of global mutable state: it threads the RouteRegistry,
// ConnectionRegistry, and Executor/compression/authorize configuration
// through to every Session it creates.
type Server struct {
	registry  *RouteRegistry
	conns     *ConnectionRegistry
	logger    *zap.Logger
	threaded  bool
	compress  bool
	authorize AuthorizeFunc
	upgrader  websocket.Upgrader
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithThreadedExecutor selects the Threaded Executor (spec.md §4.4) for
// every Session this Server creates, instead of the Cooperative default.
func WithThreadedExecutor() Option {
	return func(s *Server) { s.threaded = true }
}

// WithCompression advertises and honors permessage-deflate when the peer's
// Sec-WebSocket-Extensions header offers it (spec.md §4.1/§4.8). Off by
// default per spec.md §9's guidance to gate compression on an explicit
// flag rather than sniffing the extension header.
func WithCompression(enabled bool) Option {
	return func(s *Server) { s.compress = enabled }
}

// WithAuthorize installs the upgrade-time authorization hook.
func WithAuthorize(fn AuthorizeFunc) Option {
	return func(s *Server) { s.authorize = fn }
}

// WithLogger installs a structured logger; sessions derive a child logger
// from it carrying their session_id.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds a Server bound to registry.
func NewServer(registry *RouteRegistry, opts ...Option) *Server {
	s := &Server{
		registry:  registry,
		conns:     NewConnectionRegistry(),
		authorize: allowAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: s.compress,
	}
	return s
}

// Connections exposes the live-session registry, mainly so embedders can
// inspect connection count or look up a session by id.
func (s *Server) Connections() *ConnectionRegistry { return s.conns }

// Broadcast snapshots the live connections and enqueues an outbound call
// on each, matching spec.md §4.6: each send runs on its own goroutine
// rather than synchronously in the broadcaster's call stack, so a slow or
// blocked peer can never stall the broadcast of the others.
func (s *Server) Broadcast(name string, args any) {
	for _, sess := range s.conns.Snapshot() {
		sess := sess
		go sess.Call(name, args, nil)
	}
}
