// Package voice implements the UDP audio relay. Clients announce themselves
// with a handshake datagram; every later datagram from a bound address is
// fanned out to the other members of the sender's voice channel.
package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/domain"
)

// handshakePrefix opens a binding datagram: "VOICE_INIT:<decimal user id>".
var handshakePrefix = []byte("VOICE_INIT:")

const senderHeaderLen = 4

// Stats is a read-only view of relay state for the status API.
type Stats struct {
	AddressBindings int `json:"address_bindings"`
	Members         int `json:"members"`
	Channels        int `json:"channels"`
}

// Relay owns the datagram socket and the voice state maps. All map access
// goes through one mutex, held only for the map work itself; datagrams are
// sent after the lock is released.
type Relay struct {
	conn    *net.UDPConn
	bufSize int

	mu          sync.Mutex
	addrToUser  map[string]domain.UserID
	userToAddr  map[domain.UserID]*net.UDPAddr
	userChannel map[domain.UserID]domain.ChannelID
}

// Bind opens the relay socket. A bind failure is fatal at startup; the
// caller reports it and exits.
func Bind(hostport string, bufSize int) (*Relay, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, fmt.Errorf("voice: resolve %s: %w", hostport, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voice: bind %s: %w", hostport, err)
	}
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Relay{
		conn:        conn,
		bufSize:     bufSize,
		addrToUser:  make(map[string]domain.UserID),
		userToAddr:  make(map[domain.UserID]*net.UDPAddr),
		userChannel: make(map[domain.UserID]domain.ChannelID),
	}, nil
}

// Addr reports the bound socket address.
func (r *Relay) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Close shuts the socket and unblocks Serve.
func (r *Relay) Close() error {
	return r.conn.Close()
}

// Serve runs the receive loop until ctx is canceled or the socket closes.
// It is meant to run on exactly one goroutine.
func (r *Relay) Serve(ctx context.Context) {
	log.Info().Str("module", "voice").Stringer("addr", r.conn.LocalAddr()).Msg("voice relay listening")
	buf := make([]byte, r.bufSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Info().Str("module", "voice").Msg("voice relay stopped")
				return
			}
			log.Error().Str("module", "voice").Err(err).Msg("voice read error")
			continue
		}
		r.handleDatagram(buf[:n], addr)
	}
}

func (r *Relay) handleDatagram(data []byte, addr *net.UDPAddr) {
	if bytes.HasPrefix(data, handshakePrefix) {
		r.bindAddress(data[len(handshakePrefix):], addr)
		return
	}

	// Audio path. Resolve the recipient addresses under the lock, send
	// after releasing it.
	r.mu.Lock()
	sender, bound := r.addrToUser[addr.String()]
	if !bound {
		r.mu.Unlock()
		return
	}
	channel, inChannel := r.userChannel[sender]
	if !inChannel {
		r.mu.Unlock()
		return
	}
	targets := make([]*net.UDPAddr, 0, len(r.userChannel))
	for uid, ch := range r.userChannel {
		if ch != channel || uid == sender {
			continue
		}
		if target, ok := r.userToAddr[uid]; ok {
			targets = append(targets, target)
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	packet := make([]byte, senderHeaderLen+len(data))
	binary.BigEndian.PutUint32(packet, uint32(sender))
	copy(packet[senderHeaderLen:], data)
	for _, target := range targets {
		// Best-effort, same as the control-channel broadcasts.
		if _, err := r.conn.WriteToUDP(packet, target); err != nil {
			log.Debug().Str("module", "voice").Stringer("target", target).Err(err).Msg("dropped audio datagram")
		}
	}
}

// bindAddress establishes or refreshes the address binding named by a
// handshake datagram. The latest handshake for a user wins, which lets a
// client roam to a new source address mid-call. Malformed ids are dropped.
func (r *Relay) bindAddress(rawID []byte, addr *net.UDPAddr) {
	uid, err := domain.ParseUserID(string(rawID))
	if err != nil {
		log.Debug().Str("module", "voice").Stringer("addr", addr).Msg("malformed voice handshake")
		return
	}
	r.mu.Lock()
	r.addrToUser[addr.String()] = uid
	r.userToAddr[uid] = addr
	r.mu.Unlock()
	log.Debug().Str("module", "voice").Stringer("user", uid).Stringer("addr", addr).Msg("voice address bound")
}

// JoinChannel upserts the membership for id. A user is in at most one
// channel; joining replaces any previous membership.
func (r *Relay) JoinChannel(id domain.UserID, ch domain.ChannelID) {
	r.mu.Lock()
	r.userChannel[id] = ch
	r.mu.Unlock()
}

// LeaveChannel removes the membership if present.
func (r *Relay) LeaveChannel(id domain.UserID) {
	r.mu.Lock()
	delete(r.userChannel, id)
	r.mu.Unlock()
}

// ChannelOf reports the channel id is currently a member of.
func (r *Relay) ChannelOf(id domain.UserID) (domain.ChannelID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.userChannel[id]
	return ch, ok
}

// Members returns a snapshot of the ids currently in ch.
func (r *Relay) Members(ch domain.ChannelID) []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserID, 0, len(r.userChannel))
	for uid, c := range r.userChannel {
		if c == ch {
			out = append(out, uid)
		}
	}
	return out
}

// Stats counts bindings and memberships. Address bindings are never expired,
// so their count only grows between restarts; exposing it keeps that gap
// observable.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make(map[domain.ChannelID]struct{}, len(r.userChannel))
	for _, ch := range r.userChannel {
		channels[ch] = struct{}{}
	}
	return Stats{
		AddressBindings: len(r.addrToUser),
		Members:         len(r.userChannel),
		Channels:        len(channels),
	}
}
