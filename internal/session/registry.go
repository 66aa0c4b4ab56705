package session

import "sync"

// Registry is the live session list, guarded by its own mutex — the
// spec's clients_lock, kept separate from the scheduler's version_lock
// (internal/version) since registry bookkeeping never needs to touch the
// document.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// All returns a snapshot of every registered session, safe to range over
// without holding the registry's lock.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepDisconnected finds every session with online==false, marks it
// drained, and unlinks it from the registry. This is the drain contract
// of spec.md §4.D: only after MarkDrained may the transport layer close
// the connection, so the scheduler never dispatches to a freed session.
func (r *Registry) SweepDisconnected() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var drained []*Session
	for id, s := range r.sessions {
		if s.Online() {
			continue
		}
		s.MarkDrained()
		delete(r.sessions, id)
		drained = append(drained, s)
	}
	return drained
}
