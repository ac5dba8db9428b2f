package domain

// Event names pushed to clients as unsolicited envelopes. The core only
// transports these; their payloads are opaque to it.
const (
	EventUserStatus       = "user_status"
	EventVoiceRing        = "voice_ring"
	EventVoiceUpdate      = "voice_update"
	EventVoiceStateUpdate = "voice_state_update"
	EventNewMsg           = "new_msg"
	EventUpdateFriends    = "update_friends"
	EventProfileUpdated   = "profile_updated"
	EventMessagesRead     = "messages_read"
	EventNewGift          = "new_gift"
	EventGiftAnim         = "gift_anim"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ActionConnect is the one action the core handles itself; everything else
// is passed through to the command processor.
const ActionConnect = "connect"
