// Package app owns the shared server state: who is online, which sessions
// are connected, and how envelopes get fanned out to them.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/domain"
	"github.com/novcord/server/internal/protocol"
)

// Sender is the transport-facing side of a session. Writes must be safe to
// call from any goroutine; the TCP adapter serializes them internally.
type Sender interface {
	Send(env protocol.Envelope) error
	SessionID() string
}

// Registry tracks the connected-session set and the presence entries
// (user id -> session). One lock covers both maps so the online set always
// equals the presence key set; the lock is never held across a socket write.
type Registry struct {
	mu       sync.RWMutex
	entries  map[domain.UserID]Sender
	sessions map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[domain.UserID]Sender),
		sessions: make(map[string]Sender),
	}
}

// AddSession records a freshly accepted connection, before any handshake.
func (r *Registry) AddSession(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID()] = s
}

// RemoveSession forgets a closed connection.
func (r *Registry) RemoveSession(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.SessionID())
}

// Register binds a user id to its session. A second handshake for an id
// already online overwrites the previous entry; the older session stays
// connected but is no longer addressable by id.
func (r *Registry) Register(id domain.UserID, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = s
	log.Info().Str("module", "app.registry").Stringer("user", id).Str("sid", s.SessionID()).Msg("user online")
}

// Unregister removes the presence entry if present.
func (r *Registry) Unregister(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// UnregisterSession removes the presence entry only if it still points at s.
// The cleanup path of a session that was overwritten by a reconnect must not
// knock the newer session offline. Reports whether the entry was removed.
func (r *Registry) UnregisterSession(id domain.UserID, s Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur.SessionID() != s.SessionID() {
		return false
	}
	delete(r.entries, id)
	log.Info().Str("module", "app.registry").Stringer("user", id).Msg("user offline")
	return true
}

func (r *Registry) IsOnline(id domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Lookup returns the session currently registered for id.
func (r *Registry) Lookup(id domain.UserID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[id]
	return s, ok
}

// SnapshotOnline returns a point-in-time copy of the online id set, safe to
// iterate while other sessions register and disconnect.
func (r *Registry) SnapshotOnline() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// SnapshotSessions returns every connected session, handshaken or not.
func (r *Registry) SnapshotSessions() []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sender, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
