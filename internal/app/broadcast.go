package app

import (
	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/domain"
	"github.com/novcord/server/internal/protocol"
)

// Dispatcher delivers envelopes to one or all connected sessions.
// Delivery is best-effort: a failed write is dropped, never retried, and
// never surfaced to the caller.
type Dispatcher struct {
	reg *Registry
}

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// SendToUser writes env to the session registered for id, if any.
func (d *Dispatcher) SendToUser(id domain.UserID, env protocol.Envelope) {
	s, ok := d.reg.Lookup(id)
	if !ok {
		return
	}
	if err := s.Send(env); err != nil {
		log.Debug().Str("module", "app.dispatch").Stringer("user", id).Err(err).Msg("dropped envelope")
	}
}

// SendToAll writes env to every connected session, including those that have
// not completed the connect handshake. One recipient failing does not stop
// delivery to the rest.
func (d *Dispatcher) SendToAll(env protocol.Envelope) {
	for _, s := range d.reg.SnapshotSessions() {
		if err := s.Send(env); err != nil {
			log.Debug().Str("module", "app.dispatch").Str("sid", s.SessionID()).Err(err).Msg("dropped envelope")
		}
	}
}
