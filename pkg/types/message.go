package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry of a conversation.
// A message is immutable once IsStreaming is false, except for explicit
// edit and delete operations.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"` // "user" | "assistant"
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	IsStreaming bool      `json:"isStreaming"`
}

// UnmarshalJSON rejects records with an unknown role so corrupt cache
// payloads and malformed store responses never enter a session.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := (*Alias)(m)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return nil
}

// CloneMessages returns a copy of msgs that shares no backing array.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
