// Package protocol implements the length-prefixed JSON framing used on the
// TCP control channel: a 4-byte big-endian payload length followed by that
// many bytes of UTF-8 JSON.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/novcord/server/internal/domain"
)

var (
	// ErrClosed reports that the peer closed the transport cleanly,
	// between frames. Not an error condition worth logging.
	ErrClosed = errors.New("transport closed")

	// ErrProtocol reports a malformed or truncated frame. The connection
	// is unusable afterwards and must be dropped.
	ErrProtocol = errors.New("protocol error")
)

// Envelope is one decoded message unit: a keyed mapping. The core treats
// most envelopes as opaque and only inspects a handful of top-level fields.
type Envelope map[string]any

// Request is the client request shape carried by an envelope.
type Request struct {
	Action  string
	Payload map[string]any
}

const prefixLen = 4

// WriteEnvelope frames and writes v, which must be JSON-marshalable.
func WriteEnvelope(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	buf := make([]byte, prefixLen+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[prefixLen:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// ReadEnvelope reads exactly one frame from r. It returns ErrClosed when the
// peer disconnects between frames and ErrProtocol when a frame is truncated
// or its payload is not valid JSON. Short reads from the transport are
// retried until the full frame is in.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var prefix [prefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: truncated length prefix: %v", ErrProtocol, err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated payload (%d bytes expected): %v", ErrProtocol, size, err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrProtocol, err)
	}
	return env, nil
}

// AsRequest extracts the {action, payload} view of an envelope. A missing
// payload yields an empty map so handlers can index it freely.
func (e Envelope) AsRequest() Request {
	req := Request{Payload: map[string]any{}}
	if s, ok := e["action"].(string); ok {
		req.Action = s
	}
	if m, ok := e["payload"].(map[string]any); ok {
		req.Payload = m
	}
	return req
}

// UserID pulls a numeric user id out of a payload field. JSON numbers
// arrive as float64; decimal strings are tolerated for robustness.
func UserID(payload map[string]any, key string) (domain.UserID, bool) {
	switch v := payload[key].(type) {
	case float64:
		return domain.UserID(v), true
	case string:
		id, err := domain.ParseUserID(v)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

// ErrorEnvelope is the structured error reply sent to the single requester
// whose command failed.
func ErrorEnvelope(err error) Envelope {
	return Envelope{"status": "error", "msg": err.Error()}
}
