package domain

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a conversation. Messages are immutable once
// appended to a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxSessionMessages is the hard cap on a session's retained history.
// AddMessage trims to the most recent entries after every append.
const MaxSessionMessages = 10

// Session is the ephemeral, TTL-bound state of one conversation.
// It is created on first connect, refreshed on every activity, and destroyed
// on TTL expiry or explicit disconnect.
type Session struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Language     string    `json:"language,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Append adds a message and trims the history to MaxSessionMessages.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	if len(s.Messages) > MaxSessionMessages {
		s.Messages = s.Messages[len(s.Messages)-MaxSessionMessages:]
	}
	s.LastActivity = msg.Timestamp
}
