package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/novcord/server/internal/protocol"
)

var ErrUnknownAction = errors.New("unknown action")

// Processor resolves a client action into a response envelope. The business
// logic behind it (storage, email, assets) lives outside the core; from the
// session handler's perspective this is a synchronous, possibly blocking call.
type Processor interface {
	Process(ctx context.Context, action string, payload map[string]any) (protocol.Envelope, error)
}

// HandlerFunc handles a single action.
type HandlerFunc func(ctx context.Context, payload map[string]any) (protocol.Envelope, error)

// Mux routes actions to registered handlers, with unknown actions rejected
// explicitly rather than silently ignored.
type Mux struct {
	handlers map[string]HandlerFunc
	fallback Processor
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for action. Registering twice panics; action tables
// are wired once at startup.
func (m *Mux) Handle(action string, fn HandlerFunc) {
	if _, dup := m.handlers[action]; dup {
		panic(fmt.Sprintf("mux: duplicate handler for %q", action))
	}
	m.handlers[action] = fn
}

// SetFallback forwards unmatched actions to p instead of failing them.
// This is where the external business-logic processor plugs in.
func (m *Mux) SetFallback(p Processor) {
	m.fallback = p
}

func (m *Mux) Process(ctx context.Context, action string, payload map[string]any) (protocol.Envelope, error) {
	if fn, ok := m.handlers[action]; ok {
		return fn(ctx, payload)
	}
	if m.fallback != nil {
		return m.fallback.Process(ctx, action, payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}
