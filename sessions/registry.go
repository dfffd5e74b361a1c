package sessions

import (
	"fmt"
	"sync"
)

// Registry is the in-memory token → session map. It is a plain injectable
// component: construct one per server (or per test) and pass it where it is
// needed. Lookups are always by exact token; the map is never iterated for
// business logic.
//
// There is no idle-session expiry. A session whose client vanishes without
// an explicit DELETE and without its standing stream surfacing a close
// signal stays registered until process exit.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create inserts a session under its token. Inserting a token that is
// already present fails with ErrSessionExists; random token generation makes
// that unreachable in practice, but it is checked rather than assumed.
func (r *Registry) Create(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID()]; ok {
		return fmt.Errorf("register session %q: %w", sess.ID(), ErrSessionExists)
	}
	r.sessions[sess.ID()] = sess
	return nil
}

// Get returns the session for the token, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove deletes the token if present. Removing an absent token is a no-op,
// which keeps repeated close signals idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
