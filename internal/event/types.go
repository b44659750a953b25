package event

import (
	"time"

	"github.com/opencode-ai/chatstream/pkg/types"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"
	SessionIdle    EventType = "session.idle"
	SessionError   EventType = "session.error"
	SessionRetry   EventType = "session.retry"
	MessageCreated EventType = "message.created"
	MessageUpdated EventType = "message.updated"
	MessageRemoved EventType = "message.removed"
)

// SessionInfoData is the data for session.created and session.deleted.
type SessionInfoData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData carries the session flags after a change.
type SessionUpdatedData struct {
	SessionID   string `json:"sessionID"`
	IsLoading   bool   `json:"isLoading"`
	IsStreaming bool   `json:"isStreaming"`
	RetryCount  int    `json:"retryCount"`
	Messages    int    `json:"messages"`
}

// SessionIdleData is the data for session.idle events.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	SessionID string              `json:"sessionID,omitempty"`
	Error     *types.SessionError `json:"error,omitempty"`
}

// SessionRetryData is published when a failed attempt is rescheduled.
type SessionRetryData struct {
	SessionID  string        `json:"sessionID"`
	Attempt    int           `json:"attempt"`
	MaxRetries int           `json:"maxRetries"`
	Delay      time.Duration `json:"delay"`
	Reason     string        `json:"reason"`
}

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	SessionID string         `json:"sessionID"`
	Info      *types.Message `json:"info"`
}

// MessageUpdatedData is the data for message.updated events. Delta holds the
// fragment appended by a streaming update.
type MessageUpdatedData struct {
	SessionID string         `json:"sessionID"`
	Info      *types.Message `json:"info"`
	Delta     string         `json:"delta,omitempty"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}
