package directory

import "strings"

// DefaultRoomPrefix is prepended to a client id to form its room name
const DefaultRoomPrefix = "room_"

// Codec maps client ids to room names and back.
// Encode must be injective so one client never owns two rooms.
type Codec interface {
	Encode(clientID string) string
	Decode(roomName string) (string, bool)
}

// PrefixCodec names rooms by prefixing the client id
type PrefixCodec struct {
	Prefix string
}

// NewPrefixCodec returns a codec using prefix, or DefaultRoomPrefix when empty
func NewPrefixCodec(prefix string) PrefixCodec {
	if prefix == "" {
		prefix = DefaultRoomPrefix
	}
	return PrefixCodec{Prefix: prefix}
}

func (c PrefixCodec) Encode(clientID string) string {
	return c.Prefix + clientID
}

func (c PrefixCodec) Decode(roomName string) (string, bool) {
	clientID, ok := strings.CutPrefix(roomName, c.Prefix)
	if !ok || clientID == "" {
		return "", false
	}
	return clientID, true
}
