package types

import (
	"encoding/json"
	"time"
)

// Role identifies which side of a counseling room a connection speaks for
type Role string

const (
	RoleCounselor Role = "counselor"
	RoleClient    Role = "client"
)

// Inbound event names
const (
	EventLogin          = "login"
	EventSendMessage    = "send_message"
	EventSelectChatRoom = "select_chat_room"
	EventMarkAsRead     = "mark_as_read"
	EventEndCounseling  = "end_counseling"
)

// Outbound event names
const (
	EventLoginSuccess     = "login_success"
	EventLoginFail        = "login_fail"
	EventClientListUpdate = "client_list_update"
	EventLoadMessages     = "load_messages"
	EventReceiveMessage   = "receive_message"
	EventMessagesRead     = "messages_read"
)

// TimestampLayout is the ISO-8601 layout used on the wire (UTC, millisecond precision)
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Identity is a resolved user identity
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Room pairs one client with the counselor. Rooms are never deleted.
type Room struct {
	RoomName    string    `json:"roomName" db:"room_name"`
	ClientID    string    `json:"clientId" db:"client_id"`
	CounselorID string    `json:"counselorId" db:"counselor_id"`
	IsOnline    bool      `json:"isOnline" db:"is_online"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Message is one entry in a room's append-only log.
// Read is the only mutable field and only ever moves from false to true.
type Message struct {
	ID        string    `json:"id" db:"id"`
	RoomName  string    `json:"roomName" db:"room_name"`
	Sender    string    `json:"sender" db:"sender"`
	Body      string    `json:"message" db:"body"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Read      bool      `json:"read" db:"read"`
}

// Session is the connection-scoped binding of identity and room.
// ActiveRoom is fixed for clients and mutable for the counselor.
type Session struct {
	ConnectionID string    `json:"connectionId"`
	Identity     Identity  `json:"identity"`
	ActiveRoom   string    `json:"activeRoom,omitempty"`
	BoundAt      time.Time `json:"boundAt"`
}

// Role returns the session's role
func (s *Session) Role() Role {
	return s.Identity.Role
}

// UserID returns the session's identity id
func (s *Session) UserID() string {
	return s.Identity.ID
}

// RosterEntry is one counselor-facing row of the client list
type RosterEntry struct {
	ClientID    string `json:"id"`
	RoomName    string `json:"roomName"`
	IsOnline    bool   `json:"isOnline"`
	UnreadCount int    `json:"unreadCount"`
	DisplayName string `json:"displayName"`
}

// Envelope is the framing used for every event in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope carries an already-typed payload to a connection
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// LoginRequest is the payload of the login event
type LoginRequest struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// SendMessageRequest is the payload of send_message.
// TargetRoom is only honored for the counselor.
type SendMessageRequest struct {
	Message    string `json:"message"`
	TargetRoom string `json:"targetRoom,omitempty"`
}

// RoomRequest is the payload of select_chat_room and mark_as_read
type RoomRequest struct {
	RoomName string `json:"roomName"`
}

// LoginSuccess is sent to the caller after a successful login.
// Room is nil for the counselor.
type LoginSuccess struct {
	ID   string  `json:"id"`
	Type Role    `json:"type"`
	Room *string `json:"room"`
}

// LoginFail is sent to the caller when login is rejected
type LoginFail struct {
	Message string `json:"message"`
}

// MessagePayload is the wire form of a Message
type MessagePayload struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	RoomName  string `json:"roomName"`
	Read      bool   `json:"read"`
}

// NewMessagePayload converts a stored message to its wire form
func NewMessagePayload(m *Message) MessagePayload {
	return MessagePayload{
		Sender:    m.Sender,
		Message:   m.Body,
		Timestamp: FormatTimestamp(m.Timestamp),
		RoomName:  m.RoomName,
		Read:      m.Read,
	}
}

// NewMessagePayloads converts a history slice; never returns nil so the
// wire form is always a JSON array
func NewMessagePayloads(messages []*Message) []MessagePayload {
	payloads := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		payloads = append(payloads, NewMessagePayload(m))
	}
	return payloads
}

// FormatTimestamp renders t as an ISO-8601 UTC string
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
