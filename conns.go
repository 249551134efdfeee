package wsrpc

import "sync"

// ConnectionRegistry is the process-wide (per-Server) set of live Sessions,
// keyed by session id. Readers dominate (broadcast enumeration), so it is
// guarded by a RWMutex per spec.md §4.7's guidance for parallel runtimes.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{sessions: make(map[string]*Session)}
}

func (r *ConnectionRegistry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *ConnectionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get looks up a live session by id.
func (r *ConnectionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Snapshot returns a point-in-time copy of the live sessions, so a
// broadcast can iterate without holding the registry lock across
// potentially slow per-session sends — and so a session closing mid-
// broadcast never mutates the slice being iterated (spec.md §9's
// "snapshot-then-iterate" fix for the older, unsafe implementation).
func (r *ConnectionRegistry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
