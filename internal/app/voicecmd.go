package app

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/domain"
	"github.com/novcord/server/internal/protocol"
)

// VoiceControl is the relay-facing surface the command path mutates.
// Membership changes always go through here, never through the relay's maps
// directly.
type VoiceControl interface {
	JoinChannel(id domain.UserID, ch domain.ChannelID)
	LeaveChannel(id domain.UserID)
	ChannelOf(id domain.UserID) (domain.ChannelID, bool)
	Members(ch domain.ChannelID) []domain.UserID
}

var errBadVoicePayload = errors.New("voice payload missing user_id or chat_id")

// VoiceCommands wires the voice call actions onto a Mux. Joining, leaving
// and state sync mutate relay membership via VoiceControl and notify the
// affected peers over the control channel.
type VoiceCommands struct {
	Voice    VoiceControl
	Dispatch *Dispatcher
}

func (vc *VoiceCommands) RegisterOn(mux *Mux) {
	mux.Handle("join_voice", vc.joinVoice)
	mux.Handle("leave_voice", vc.leaveVoice)
	mux.Handle("voice_state", vc.voiceState)
	mux.Handle("get_voice_participants", vc.participants)
}

func (vc *VoiceCommands) joinVoice(_ context.Context, payload map[string]any) (protocol.Envelope, error) {
	uid, ok := protocol.UserID(payload, "user_id")
	chat, chatOK := payload["chat_id"]
	if !ok || !chatOK {
		return nil, errBadVoicePayload
	}
	channel := channelID(chat)

	vc.Voice.JoinChannel(uid, channel)
	log.Info().Str("module", "app.voice").Stringer("user", uid).Str("channel", string(channel)).Msg("joined voice channel")

	if chatType(payload) == "private" {
		if peer, ok := privatePeer(channel, uid); ok {
			vc.Dispatch.SendToUser(peer, protocol.Envelope{
				"event":     domain.EventVoiceRing,
				"caller_id": uid,
				"chat_id":   channel,
				"chat_type": "private",
			})
			// chat_id carries the caller id so the callee can map the
			// call onto its private chat view.
			event := protocol.Envelope{"event": domain.EventVoiceUpdate, "type": "join", "user_id": uid, "chat_id": uid}
			vc.Dispatch.SendToUser(peer, event)
			vc.Dispatch.SendToUser(uid, event)
		}
	} else {
		event := protocol.Envelope{"event": domain.EventVoiceUpdate, "type": "join", "user_id": uid, "chat_id": channel}
		for _, member := range vc.Voice.Members(channel) {
			vc.Dispatch.SendToUser(member, event)
		}
	}
	return protocol.Envelope{"status": "ok"}, nil
}

func (vc *VoiceCommands) leaveVoice(_ context.Context, payload map[string]any) (protocol.Envelope, error) {
	uid, ok := protocol.UserID(payload, "user_id")
	chat, chatOK := payload["chat_id"]
	if !ok || !chatOK {
		return nil, errBadVoicePayload
	}
	channel := channelID(chat)

	vc.Voice.LeaveChannel(uid)
	log.Info().Str("module", "app.voice").Stringer("user", uid).Msg("left voice channel")

	isEmpty := len(vc.Voice.Members(channel)) == 0

	if chatType(payload) == "private" {
		if peer, ok := privatePeer(channel, uid); ok {
			vc.Dispatch.SendToUser(peer, protocol.Envelope{
				"event": domain.EventVoiceUpdate, "type": "leave",
				"user_id": uid, "chat_id": uid, "is_empty": isEmpty,
			})
		}
	} else {
		event := protocol.Envelope{
			"event": domain.EventVoiceUpdate, "type": "leave",
			"user_id": uid, "chat_id": channel, "is_empty": isEmpty,
		}
		for _, member := range vc.Voice.Members(channel) {
			vc.Dispatch.SendToUser(member, event)
		}
	}
	return protocol.Envelope{"status": "ok"}, nil
}

// voiceState relays mute/deafen changes to the other members of the
// sender's channel. No relay state is touched.
func (vc *VoiceCommands) voiceState(_ context.Context, payload map[string]any) (protocol.Envelope, error) {
	uid, ok := protocol.UserID(payload, "user_id")
	chat, chatOK := payload["chat_id"]
	if !ok || !chatOK {
		return nil, errBadVoicePayload
	}
	channel := channelID(chat)

	event := protocol.Envelope{
		"event":       domain.EventVoiceStateUpdate,
		"user_id":     uid,
		"chat_id":     channel,
		"is_muted":    payload["is_muted"] == true,
		"is_deafened": payload["is_deafened"] == true,
	}

	if chatType(payload) == "private" {
		if peer, ok := privatePeer(channel, uid); ok {
			vc.Dispatch.SendToUser(peer, event)
		}
	} else {
		for _, member := range vc.Voice.Members(channel) {
			if member != uid {
				vc.Dispatch.SendToUser(member, event)
			}
		}
	}
	return protocol.Envelope{"status": "ok"}, nil
}

func (vc *VoiceCommands) participants(_ context.Context, payload map[string]any) (protocol.Envelope, error) {
	chat, ok := payload["chat_id"]
	if !ok {
		return nil, errBadVoicePayload
	}
	return protocol.Envelope{"status": "ok", "participants": vc.Voice.Members(channelID(chat))}, nil
}

// channelID renders a chat_id payload value (JSON number or string) as a
// channel key.
func channelID(v any) domain.ChannelID {
	switch c := v.(type) {
	case string:
		return domain.ChannelID(c)
	case float64:
		return domain.ChannelID(domain.UserID(c).String())
	default:
		return ""
	}
}

func chatType(payload map[string]any) string {
	s, _ := payload["chat_type"].(string)
	return s
}

// privatePeer extracts the other participant from a private_<a>_<b> key.
func privatePeer(ch domain.ChannelID, self domain.UserID) (domain.UserID, bool) {
	parts := strings.Split(string(ch), "_")
	if len(parts) != 3 || parts[0] != "private" {
		return 0, false
	}
	a, err1 := domain.ParseUserID(parts[1])
	b, err2 := domain.ParseUserID(parts[2])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	if a == self {
		return b, true
	}
	return a, true
}
