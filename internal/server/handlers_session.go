package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/storage"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
}

// UpdateMessageRequest is the body of PATCH /api/sessions/{id}/messages/{messageID}.
type UpdateMessageRequest struct {
	Content string `json:"content"`
}

func sessionKey(id string) []string {
	return []string{"session", id}
}

func messagesKey(sessionID string) []string {
	return []string{"message", sessionID}
}

func messageKey(sessionID, id string) []string {
	return []string{"message", sessionID, id}
}

func newID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

// listSessions handles GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []types.Session{}
	err := s.storage.Scan(r.Context(), []string{"session"}, func(_ string, data json.RawMessage) error {
		var session types.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil
		}
		sessions = append(sessions, session)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
			return
		}
	}

	session := &types.Session{
		ID:        newID("ses"),
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.Put(r.Context(), sessionKey(session.ID), session); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionInfoData{Info: session}})
	writeJSON(w, http.StatusCreated, session)
}

// getSession handles GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// deleteSession handles DELETE /api/sessions/{sessionID}. The session is
// marked ended and its messages are removed.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	ids, err := s.storage.List(ctx, messagesKey(session.ID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	for _, id := range ids {
		if err := s.storage.Delete(ctx, messageKey(session.ID, id)); err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
	}
	if err := s.storage.Delete(ctx, sessionKey(session.ID)); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	ended := time.Now().UTC()
	session.EndedAt = &ended
	s.bus.Publish(event.Event{Type: event.SessionDeleted, Data: event.SessionInfoData{Info: session}})
	w.WriteHeader(http.StatusNoContent)
}

// listMessages handles GET /api/sessions/{sessionID}/messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	msgs, err := s.messages(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// addMessage handles POST /api/sessions/{sessionID}/messages. The stored
// record gets a server-assigned id and timestamp.
func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var msg types.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(msg.Content) == "" && msg.Role == types.RoleUser {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	msg.ID = newID("msg")
	msg.CreatedAt = time.Now().UTC()
	msg.IsStreaming = false
	if err := s.storage.Put(r.Context(), messageKey(session.ID, msg.ID), &msg); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{SessionID: session.ID, Info: &msg}})
	writeJSON(w, http.StatusCreated, msg)
}

// updateMessage handles PATCH /api/sessions/{sessionID}/messages/{messageID}
func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")

	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	var msg types.Message
	if err := s.storage.Get(r.Context(), messageKey(session.ID, messageID), &msg); err != nil {
		s.writeLookupError(w, err, "Message not found")
		return
	}
	msg.Content = req.Content
	msg.CreatedAt = time.Now().UTC()
	if err := s.storage.Put(r.Context(), messageKey(session.ID, msg.ID), &msg); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{SessionID: session.ID, Info: &msg}})
	writeJSON(w, http.StatusOK, msg)
}

// deleteMessage handles DELETE /api/sessions/{sessionID}/messages/{messageID}
func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")

	if !s.storage.Exists(r.Context(), messageKey(session.ID, messageID)) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Message not found")
		return
	}
	if err := s.storage.Delete(r.Context(), messageKey(session.ID, messageID)); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{Type: event.MessageRemoved, Data: event.MessageRemovedData{SessionID: session.ID, MessageID: messageID}})
	w.WriteHeader(http.StatusNoContent)
}

// messages returns a session's messages in creation order. Message ids are
// ULIDs, so key order is creation order.
func (s *Server) messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	msgs := []types.Message{}
	err := s.storage.Scan(ctx, messagesKey(sessionID), func(_ string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil
		}
		msgs = append(msgs, msg)
		return nil
	})
	return msgs, err
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	var session types.Session
	if err := s.storage.Get(r.Context(), sessionKey(sessionID), &session); err != nil {
		s.writeLookupError(w, err, "Session not found")
		return nil, false
	}
	return &session, true
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, notFound)
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
}
