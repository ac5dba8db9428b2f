// Package tcp owns the control-channel transport: the listening socket and
// one session handler per accepted connection.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/app"
	"github.com/novcord/server/internal/domain"
	"github.com/novcord/server/internal/protocol"
)

// Session is one live control-channel connection. Writes from the handler
// and from concurrent broadcasts are serialized by the write mutex.
type Session struct {
	sid  string
	conn net.Conn

	wmu sync.Mutex

	// user is set once the connect handshake succeeds and read only by the
	// owning handler goroutine afterwards.
	user       domain.UserID
	identified bool
}

func newSession(conn net.Conn) *Session {
	return &Session{sid: uuid.NewString(), conn: conn}
}

func (s *Session) SessionID() string { return s.sid }

// Send frames and writes env. Safe for concurrent use.
func (s *Session) Send(env protocol.Envelope) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return protocol.WriteEnvelope(s.conn, env)
}

// handler runs the per-connection state machine against the shared state.
type handler struct {
	reg      *app.Registry
	dispatch *app.Dispatcher
	proc     app.Processor
	voice    app.VoiceControl
}

func (h *handler) serve(ctx context.Context, conn net.Conn) {
	sess := newSession(conn)
	logger := log.With().Str("module", "tcp").Str("sid", sess.sid).Stringer("remote", conn.RemoteAddr()).Logger()
	logger.Info().Msg("connection accepted")

	h.reg.AddSession(sess)
	defer h.cleanup(sess, &logger)

	for {
		env, err := protocol.ReadEnvelope(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrClosed) {
				logger.Info().Msg("peer disconnected")
			} else {
				logger.Warn().Err(err).Msg("dropping connection")
			}
			return
		}

		req := env.AsRequest()
		if req.Action == domain.ActionConnect {
			if err := h.handshake(sess, req, &logger); err != nil {
				return
			}
			continue
		}

		resp, err := h.proc.Process(ctx, req.Action, req.Payload)
		if err != nil {
			logger.Warn().Str("action", req.Action).Err(err).Msg("command failed")
			resp = protocol.ErrorEnvelope(err)
		}
		if err := sess.Send(resp); err != nil {
			logger.Info().Err(err).Msg("response write failed")
			return
		}
	}
}

// handshake registers the session's identity, confirms to the client, tells
// everyone this user is online, and replays the rest of the online set to
// the new session. The broadcast runs first, so the new session also sees
// its own online event once.
func (h *handler) handshake(sess *Session, req protocol.Request, logger *zerolog.Logger) error {
	id, ok := protocol.UserID(req.Payload, "id")
	if !ok {
		logger.Warn().Msg("connect without user id")
		return sess.Send(protocol.ErrorEnvelope(errors.New("connect payload missing id")))
	}

	sess.user = id
	sess.identified = true
	h.reg.Register(id, sess)

	if err := sess.Send(protocol.Envelope{"status": "ok", "msg": "Connected"}); err != nil {
		return err
	}

	h.dispatch.SendToAll(statusEvent(id, domain.StatusOnline))
	for _, other := range h.reg.SnapshotOnline() {
		if other != id {
			if err := sess.Send(statusEvent(other, domain.StatusOnline)); err != nil {
				return err
			}
		}
	}
	logger.Info().Stringer("user", id).Msg("handshake complete")
	return nil
}

// cleanup tears down whatever the session established: voice membership,
// presence entry, offline broadcast, and finally the socket itself. A
// reconnect may already own the presence entry, in which case no offline
// event is sent.
func (h *handler) cleanup(sess *Session, logger *zerolog.Logger) {
	if r := recover(); r != nil {
		logger.Error().Any("panic", r).Msg("session handler panicked")
	}
	if sess.identified {
		h.voice.LeaveChannel(sess.user)
		if h.reg.UnregisterSession(sess.user, sess) {
			h.dispatch.SendToAll(statusEvent(sess.user, domain.StatusOffline))
		}
		logger.Info().Stringer("user", sess.user).Msg("user session closed")
	}
	h.reg.RemoveSession(sess)
	_ = sess.conn.Close()
}

func statusEvent(id domain.UserID, status string) protocol.Envelope {
	return protocol.Envelope{"event": domain.EventUserStatus, "user_id": id, "status": status}
}
