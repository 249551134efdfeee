// Package wsrpc implements a bidirectional JSON-RPC transport over a
// single WebSocket connection. Either peer may initiate a call; the
// receiving side answers with a callback result or an error, correlated
// back to the caller by a monotonically increasing serial.
//
// A Server multiplexes many concurrent Sessions, routes incoming calls to
// named handlers (RouteInstances or bare functions) through a
// RouteRegistry, and runs each handler on either a Cooperative or Threaded
// Executor. KeepAlive pings detect dead peers and tear the Session down
// cleanly, cancelling any outstanding outbound calls and notifying every
// route's OnClose hook exactly once.
package wsrpc
