// Package domain contains entity identifiers and the wire vocabulary, no logic.
package domain

import (
	"fmt"
	"strconv"
)

// UserID is the numeric account identifier assigned by the data store.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses the decimal form used in voice handshakes.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(n), nil
}

// ChannelID names a voice channel: a group id as-is, or a synthesized
// private-call key for one-to-one calls.
type ChannelID string

// PrivateChannel builds the canonical private-call channel key for a user
// pair. Lower id first so both sides derive the same key.
func PrivateChannel(a, b UserID) ChannelID {
	if b < a {
		a, b = b, a
	}
	return ChannelID(fmt.Sprintf("private_%d_%d", a, b))
}
