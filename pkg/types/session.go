// Package types provides the core data types shared by the chatstream packages.
package types

import (
	"fmt"
	"time"
)

// SessionState is the observable state of one conversation view.
//
// IsStreaming is true iff exactly one message has IsStreaming set, and that
// message is the last one in Messages.
type SessionState struct {
	Messages    []Message     `json:"messages"`
	IsLoading   bool          `json:"isLoading"`
	IsStreaming bool          `json:"isStreaming"`
	Error       *SessionError `json:"error,omitempty"`
	RetryCount  int           `json:"retryCount"`
}

// Clone returns a deep copy of the state.
func (s SessionState) Clone() SessionState {
	out := s
	out.Messages = CloneMessages(s.Messages)
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}

// StreamingMessage returns the message currently being streamed, if any.
func (s SessionState) StreamingMessage() (Message, bool) {
	if n := len(s.Messages); n > 0 && s.Messages[n-1].IsStreaming {
		return s.Messages[n-1], true
	}
	return Message{}, false
}

// ErrorKind classifies a terminal exchange failure.
type ErrorKind string

const (
	// ErrorExhausted means a transient condition persisted past the retry limit.
	ErrorExhausted ErrorKind = "exhausted"
	// ErrorPermanent means the failure was not retry-eligible.
	ErrorPermanent ErrorKind = "permanent"
)

// SessionError is the session-level error slot surfaced to the UI.
type SessionError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode,omitempty"`
	Attempts   int       `json:"attempts"`
}

func (e *SessionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d, %d attempts): %s", e.Kind, e.StatusCode, e.Attempts, e.Message)
	}
	return fmt.Sprintf("%s (%d attempts): %s", e.Kind, e.Attempts, e.Message)
}

// RetryContext describes the retry budget of one exchange.
type RetryContext struct {
	Attempt    int           `json:"attempt"`
	MaxRetries int           `json:"maxRetries"`
	BaseDelay  time.Duration `json:"baseDelay"`
}

// Session is a conversation record held by the remote message store.
type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}
