package chat

import (
	"context"
	"unicode/utf8"

	"github.com/opencode-ai/chatstream/pkg/types"
)

const maxTitleRunes = 48

// ensureSession returns the session id, creating a remote session first if
// a message store is configured and none exists yet.
func (s *Store) ensureSession(ctx context.Context, firstContent string) string {
	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	if sid != "" || s.remote == nil {
		return sid
	}

	session, err := s.remote.CreateSession(ctx, title(firstContent))
	if err != nil {
		s.log.Warn().Err(err).Msg("message store: create session failed")
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		s.sessionID = session.ID
		s.log.Info().Str("sessionID", session.ID).Msg("message store session created")
	}
	return s.sessionID
}

// syncMessage stores the message with id remotely and adopts the returned
// id and timestamp. Failures are logged only.
func (s *Store) syncMessage(ex *exchange, id string) {
	if s.remote == nil {
		return
	}

	s.mu.Lock()
	sid := s.sessionID
	idx := s.indexOf(id)
	if sid == "" || idx < 0 || ex.token.Cancelled() {
		s.mu.Unlock()
		return
	}
	msg := s.state.Messages[idx]
	s.mu.Unlock()

	stored, err := s.remote.AddMessage(ex.token.Context(), sid, msg)
	if err != nil {
		s.log.Warn().Err(err).Str("messageID", id).Msg("message store: add message failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ex.token.Cancelled() || !s.adoptLocked(id, stored) {
		return
	}
	switch id {
	case ex.userID:
		ex.userID = stored.ID
	case ex.assistantID:
		ex.assistantID = stored.ID
	}
}

// adoptLocked applies the server-assigned id and timestamp to the local
// message. Callers hold mu.
func (s *Store) adoptLocked(localID string, stored types.Message) bool {
	idx := s.indexOf(localID)
	if idx < 0 {
		return false
	}
	m := &s.state.Messages[idx]
	if stored.ID != "" {
		m.ID = stored.ID
	}
	if !stored.CreatedAt.IsZero() {
		m.CreatedAt = stored.CreatedAt
	}
	return true
}

// forward runs a best-effort remote mutation.
func (s *Store) forward(ctx context.Context, what string, fn func(ctx context.Context, sessionID string) error) {
	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	if s.remote == nil || sid == "" {
		return
	}
	if err := fn(ctx, sid); err != nil {
		s.log.Warn().Err(err).Str("sessionID", sid).Msgf("message store: %s failed", what)
	}
}

func title(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxTitleRunes]) + "..."
}
