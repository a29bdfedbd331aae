package room

import "time"

// Outbound event names, matching what clients subscribe to.
const (
	EventRoomUsers      = "room-users"
	EventRoomState      = "room-state"
	EventCodeUpdate     = "code-update"
	EventLanguageUpdate = "language-update"
	EventUserTyping     = "user-typing"
	EventChatMessage    = "chat-message"
	EventKicked         = "kicked"
)

// Sender delivers an event to a set of connections. The transport gateway
// implements it; sends must not block, so broadcasts can happen while a
// room's lock is held without a slow client stalling the room.
type Sender interface {
	Send(connIDs []string, event string, data any)
}

// User is the stable identity behind a connection.
type User struct {
	ID    string
	Name  string
	Color string
}

// MemberInfo is the wire shape of one room member.
type MemberInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Snapshot is the room state handed to a joining connection.
type Snapshot struct {
	RoomID   string       `json:"roomId"`
	Code     string       `json:"code"`
	Language string       `json:"language"`
	Members  []MemberInfo `json:"members"`
}

// TypingPayload is the user-typing event body.
type TypingPayload struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ChatPayload is the chat-message event body.
type ChatPayload struct {
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
