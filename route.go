package wsrpc

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// RouteMethod is a single RPC endpoint bound to a RouteInstance. It receives
// the arguments payload as checked by normalizeArguments in session.go (the
// raw JSON as received, or null when absent) and returns a JSON-marshalable
// result or an error.
type RouteMethod func(args json.RawMessage) (any, error)

// RouteInstance is a per-(Session, route-name) stateful object. It exposes
// named methods as RPC endpoints and receives exactly one OnClose
// notification when its owning Session terminates.
//
// This mirrors the teacher's BaseRpcTarget: methods are registered once,
// explicitly, rather than discovered by runtime attribute lookup (spec.md
// §9 "Dynamic dispatch to handler methods").
type RouteInstance struct {
	mu        sync.RWMutex
	methods   map[string]RouteMethod
	onClose   func()
	closeOnce sync.Once
}

// NewRouteInstance creates an empty RouteInstance ready for Method
// registration.
func NewRouteInstance() *RouteInstance {
	return &RouteInstance{methods: make(map[string]RouteMethod)}
}

// Method registers a handler under name. Returns the instance so calls can
// be chained, matching BaseRpcTarget.Method's style.
func (r *RouteInstance) Method(name string, fn RouteMethod) *RouteInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = fn
	return r
}

// OnCloseFunc registers the lifecycle hook invoked once when the owning
// Session closes. Errors raised from it are logged and swallowed by the
// caller (Session.notifyRouteClose) so that subsequent hooks still run.
func (r *RouteInstance) OnCloseFunc(fn func()) *RouteInstance {
	r.onClose = fn
	return r
}

// resolve looks up method, enforcing the private-name law: any segment
// beginning with "_" is never reachable, even if registered.
func (r *RouteInstance) resolve(method string) (RouteMethod, bool) {
	if strings.HasPrefix(method, "_") {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.methods[method]
	return fn, ok
}

// notifyClose runs the OnClose hook exactly once.
func (r *RouteInstance) notifyClose() {
	r.closeOnce.Do(func() {
		if r.onClose != nil {
			r.onClose()
		}
	})
}

// RouteFactory produces a fresh RouteInstance for a session the first time
// its route name is resolved. The factory receives the owning Session so
// the route can make outbound calls of its own.
type RouteFactory func(session *Session) *RouteInstance

// reflectMethodPrefix trims so an exported Go method "SimpleMethod" is
// reachable over the wire as "simpleMethod", matching the lowerCamel
// convention the wire examples (spec.md §8 scenario 1: "simple_method") use
// loosely — callers that need exact wire names should register explicitly
// with Method instead.
func reflectMethodPrefix(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// NewReflectRoute builds a RouteInstance whose methods are discovered from
// obj's exported methods via reflection, in the style of
// getRPCMethodsOfType in the bidirectional-RPC examples in the retrieval
// pack. Each exported method that takes a single json.RawMessage and
// returns two values, the second implementing error, is registered under
// its lowerCamel name (the first result may be of any type); methods of any
// other shape are skipped rather than rejected, since reflection alone
// cannot tell a deliberately-excluded helper from an incompatible signature.
func NewReflectRoute(obj any) *RouteInstance {
	r := NewRouteInstance()
	v := reflect.ValueOf(obj)
	t := v.Type()

	argsType := reflect.TypeOf(json.RawMessage(nil))
	errType := reflect.TypeOf((*error)(nil)).Elem()

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		mt := m.Func.Type()
		// Receiver + (args json.RawMessage) -> (any, error)
		if mt.NumIn() != 2 || mt.NumOut() != 2 {
			continue
		}
		if mt.In(1) != argsType {
			continue
		}
		if !mt.Out(1).Implements(errType) {
			continue
		}
		method := v.Method(i)
		name := reflectMethodPrefix(m.Name)
		r.Method(name, func(args json.RawMessage) (any, error) {
			out := method.Call([]reflect.Value{reflect.ValueOf(args)})
			var err error
			if e, ok := out[1].Interface().(error); ok {
				err = e
			}
			return out[0].Interface(), err
		})
	}
	return r
}
