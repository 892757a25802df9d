package relay

import (
	"errors"
	"log"
	"sync"
)

// ErrOffline means the target ref no longer maps to a live session. Callers
// treat it as "recipient offline" and skip delivery; it is never fatal.
var ErrOffline = errors.New("relay: recipient offline")

// ErrSlowConsumer means the session is live but its send buffer is full.
// The frame is dropped; the relay never queues for later delivery.
var ErrSlowConsumer = errors.New("relay: send buffer full")

// Registry tracks live sessions by connection ref and is the single
// transport adapter the router delivers through.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Accept registers a session under its ref.
func (r *Registry) Accept(s *Session) {
	r.mu.Lock()
	r.sessions[s.Ref()] = s
	count := len(r.sessions)
	r.mu.Unlock()
	log.Printf("session %s accepted, %d open", s.Ref(), count)
}

// Close drops the ref and tears the session down. Closing an unknown ref is
// a no-op.
func (r *Registry) Close(ref string) {
	r.mu.Lock()
	s, ok := r.sessions[ref]
	delete(r.sessions, ref)
	count := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	log.Printf("session %s closed, %d open", ref, count)
}

// Deliver pushes an encoded frame to the session with the given ref.
// Returns ErrOffline when the ref is unknown or the session has closed.
func (r *Registry) Deliver(ref string, payload []byte) error {
	r.mu.RLock()
	s, ok := r.sessions[ref]
	r.mu.RUnlock()
	if !ok {
		return ErrOffline
	}
	return s.Send(payload)
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		log.Printf("closed %d sessions", len(sessions))
	}
}
