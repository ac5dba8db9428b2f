package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/app"
)

// Server accepts control-channel connections and runs one session handler
// goroutine per connection. There is no connection cap; the accept loop
// never waits on a handler.
type Server struct {
	listener net.Listener
	handler  *handler
}

// Listen binds the control socket. A bind failure is fatal at startup and
// returned to the caller to report.
func Listen(hostport string, reg *app.Registry, dispatch *app.Dispatcher, proc app.Processor, voice app.VoiceControl) (*Server, error) {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("tcp: bind %s: %w", hostport, err)
	}
	return &Server{
		listener: ln,
		handler:  &handler{reg: reg, dispatch: dispatch, proc: proc, voice: voice},
	}, nil
}

// Addr reports the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting and unblocks Serve. Live sessions keep running
// until their own transports close.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Serve accepts until the listener closes or ctx is canceled. Transient
// accept errors are logged and the loop continues.
func (s *Server) Serve(ctx context.Context) {
	log.Info().Str("module", "tcp").Stringer("addr", s.listener.Addr()).Msg("control channel listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Info().Str("module", "tcp").Msg("listener stopped")
				return
			}
			log.Error().Str("module", "tcp").Err(err).Msg("accept error")
			continue
		}
		go s.handler.serve(ctx, conn)
	}
}
