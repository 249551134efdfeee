// Command echoserver is a runnable demo wiring both Executor variants of
// wsrpc behind a flag, supplementing the distillation's cooperative/
// threaded demo pair (example/run.py and example/run-thread.py in the
// original Python source) the way the teacher's examples/helloworld and
// examples/serverpush demo a single server configuration.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/wsrpc/wsrpc-go"
)

// Greeter is a stateful route: "Greeter.hello" and the bare-name
// "Greeter" (its init method) are both reachable; "Greeter._secret" never
// is, regardless of what's registered under that name.
func newGreeterRoute(session *wsrpc.Session) *wsrpc.RouteInstance {
	greeted := 0

	route := wsrpc.NewRouteInstance()
	route.Method("init", func(args json.RawMessage) (any, error) {
		return true, nil
	})
	route.Method("hello", func(args json.RawMessage) (any, error) {
		var names []string
		if err := json.Unmarshal(args, &names); err != nil || len(names) == 0 {
			greeted++
			return "Hello, World!", nil
		}
		greeted++
		return "Hello, " + names[0] + "!", nil
	})
	route.Method("_secret", func(args json.RawMessage) (any, error) {
		return "unreachable", nil
	})
	route.OnCloseFunc(func() {
		log.Printf("greeter route closing, greeted %d callers", greeted)
	})
	return route
}

// echoFunc is a bare function: it receives the session explicitly and
// echoes its arguments back verbatim, the round-trip law of spec.md §8
// scenario 5.
func echoFunc(session *wsrpc.Session, args json.RawMessage) (any, error) {
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// pingFunc answers the application-level keepalive fallback of spec.md
// §4.5/§6 for peers without WebSocket control-frame ping support.
func pingFunc(session *wsrpc.Session, args json.RawMessage) (any, error) {
	return "pong", nil
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	staticPath := flag.String("static", "./static", "directory serving the wsrpc.js/q.js companion library")
	threaded := flag.Bool("threaded", false, "run handlers on the bounded worker pool instead of inline")
	poolSize := flag.Int("pool-size", 0, "worker pool size when -threaded is set (0 = runtime.NumCPU())")
	compress := flag.Bool("compress", false, "advertise and honor permessage-deflate")
	flag.Parse()

	wsrpc.Configure(wsrpc.DefaultKeepaliveTimeout, 10*time.Second)
	if *threaded && *poolSize > 0 {
		wsrpc.InitPool(*poolSize)
	}

	logger := wsrpc.NewProductionLogger()
	defer logger.Sync()

	registry := wsrpc.NewRouteRegistry()
	if err := registry.RegisterRoute("Greeter", newGreeterRoute); err != nil {
		log.Fatal(err)
	}
	registry.RegisterFunc("echo", echoFunc)
	registry.RegisterFunc("ping", pingFunc)

	opts := []wsrpc.Option{wsrpc.WithLogger(logger), wsrpc.WithCompression(*compress)}
	if *threaded {
		opts = append(opts, wsrpc.WithThreadedExecutor())
	}
	server := wsrpc.NewServer(registry, opts...)

	e := wsrpc.SetupEchoServer()
	wsrpc.SetupRPCEndpoint(e, "/api", server)
	wsrpc.SetupAssetEndpoint(e, "/static", *staticPath, logger)

	log.Printf("wsrpc demo server listening on %s (threaded=%v compress=%v)", *addr, *threaded, *compress)
	log.Printf("RPC endpoint: ws://localhost%s/api", *addr)
	log.Printf("companion library: http://localhost%s/static/wsrpc.js", *addr)

	if err := e.Start(*addr); err != nil {
		log.Fatal(err)
	}
}
