package wsrpc

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// SetupEchoServer creates and configures an Echo server with the ambient
// middleware stack (logging, panic recovery, CORS), the same convenience
// constructor the teacher exposes.
func SetupEchoServer() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.HideBanner = true
	return e
}

// SetupRPCEndpoint binds path to server's WebSocket upgrade on e. This is
// the HTTP adapter of spec.md §4.8: it calls authorize() before completing
// the handshake, responds 403 on deny, and advertises permessage-deflate
// if and only if the Server was configured for compression.
func SetupRPCEndpoint(e *echo.Echo, path string, server *Server) {
	e.GET(path, func(c echo.Context) error {
		req := c.Request()
		if !server.authorize(req) {
			return echo.NewHTTPError(http.StatusForbidden, "authorization denied")
		}

		conn, err := server.upgrader.Upgrade(c.Response(), req, nil)
		if err != nil {
			server.logger.Warn("websocket upgrade failed", zap.Error(err))
			return err
		}

		negotiatedCompression := server.compress && negotiatedDeflate(req)
		transport := newWSTransport(conn, negotiatedCompression)
		session := newSession(server, transport, negotiatedCompression)
		session.serve()
		return nil
	})
}

// negotiatedDeflate reports whether the client's Sec-WebSocket-Extensions
// header offered permessage-deflate. gorilla/websocket's own negotiation
// already governs what actually gets used on the wire; this only mirrors
// spec.md §4.1's "negotiated from the Sec-Websocket-Extensions header"
// wording for callers that want to know whether compression is active.
func negotiatedDeflate(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Sec-WebSocket-Extensions")), "permessage-deflate")
}
