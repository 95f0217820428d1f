// Package registry indexes live sessions by id and by assigned IPv4
// address (spec.md §4.6), acting as a single-owner actor over both maps.
package registry

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/vpngw/server/internal/session"
)

// Registry implements session.Registry over two maps guarded by one lock.
type Registry struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*session.Session
	byIP    map[string]*session.Session
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byID: make(map[uuid.UUID]*session.Session),
		byIP: make(map[string]*session.Session),
	}
}

// Register adds s to the id index. Called once, at session creation.
func (r *Registry) Register(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

// BindIP adds s to the IP index on the Authenticated -> Active transition.
// Returns an error if the address is already bound to a different session
// (the spec's "assert no collision"); the ip pool's single-lease invariant
// should make this unreachable in practice.
func (r *Registry) BindIP(ip net.IP, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ip.String()
	if existing, ok := r.byIP[key]; ok && existing.ID() != s.ID() {
		return fmt.Errorf("registry: ip %s already bound to session %s", key, existing.ID())
	}
	r.byIP[key] = s
	return nil
}

// Unregister removes s from both indices on entry to Disconnected.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if ip := s.AssignedIP(); ip != nil {
		if bound, ok := r.byIP[ip.String()]; ok && bound.ID() == id {
			delete(r.byIP, ip.String())
		}
	}
}

// LookupByID returns the session registered under id, if any.
func (r *Registry) LookupByID(id uuid.UUID) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// LookupByIP returns the Active session bound to ip, if any.
func (r *Registry) LookupByIP(ip net.IP) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byIP[ip.String()]
	return s, ok
}

// All returns a snapshot slice of every registered session. The caller
// must not perform session I/O while holding any lock derived from this
// call; the snapshot is taken and the lock released before returning.
func (r *Registry) All() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

var _ session.Registry = (*Registry)(nil)
