package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// Cancel stops the running exchange, if any. The placeholder keeps the
// content streamed so far and no error is recorded. Safe to call at any time.
func (s *Store) Cancel() {
	s.mu.Lock()
	evs, msgs, changed := s.cancelLocked()
	s.mu.Unlock()
	if !changed {
		return
	}

	s.log.Debug().Msg("exchange cancelled")
	s.save(context.Background(), msgs)
	s.emit(evs...)
}

// Clear cancels any exchange and empties the conversation and its cache.
// With a message store, the remote session is ended and the next Send
// starts a new one.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	evs, _, _ := s.cancelLocked()
	s.state = types.SessionState{Messages: []types.Message{}}
	evs = append(evs, s.updatedEvent())
	sid := s.sessionID
	if s.remote != nil {
		s.sessionID = ""
	}
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Clear(ctx)
	}
	s.emit(evs...)

	if s.remote != nil && sid != "" {
		if err := s.remote.DeleteSession(ctx, sid); err != nil {
			s.log.Warn().Err(err).Str("sessionID", sid).Msg("message store: delete session failed")
		}
	}
}

// Delete removes the message with id. The streaming message cannot be
// deleted; cancel the exchange first.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if s.state.Messages[idx].IsStreaming {
		s.mu.Unlock()
		return ErrMessageStreaming
	}
	s.state.Messages = slices.Delete(s.state.Messages, idx, idx+1)
	evs := []event.Event{s.removedEvent(id), s.updatedEvent()}
	msgs := types.CloneMessages(s.state.Messages)
	s.mu.Unlock()

	s.save(ctx, msgs)
	s.emit(evs...)
	s.forward(ctx, "delete message", func(ctx context.Context, sid string) error {
		return s.remote.DeleteMessage(ctx, sid, id)
	})
	return nil
}

// Edit replaces the content of the message with id and refreshes its
// timestamp.
func (s *Store) Edit(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if s.state.Messages[idx].IsStreaming {
		s.mu.Unlock()
		return ErrMessageStreaming
	}
	s.state.Messages[idx].Content = content
	s.state.Messages[idx].CreatedAt = s.now()
	evs := []event.Event{s.messageEvent(s.state.Messages[idx], "")}
	msgs := types.CloneMessages(s.state.Messages)
	s.mu.Unlock()

	s.save(ctx, msgs)
	s.emit(evs...)
	s.forward(ctx, "update message", func(ctx context.Context, sid string) error {
		stored, err := s.remote.UpdateMessage(ctx, sid, id, content)
		if err != nil {
			return err
		}
		s.mu.Lock()
		adopted := s.adoptLocked(id, stored)
		msgs := types.CloneMessages(s.state.Messages)
		s.mu.Unlock()
		if adopted {
			s.save(ctx, msgs)
		}
		return nil
	})
	return nil
}

// Append adds a finalized message discovered elsewhere, such as by polling
// the message store. It reports false when a message with the same id is
// already present. A streaming placeholder stays last.
func (s *Store) Append(ctx context.Context, msg types.Message) (bool, error) {
	if !msg.Role.Valid() {
		return false, fmt.Errorf("invalid message role %q", msg.Role)
	}

	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if s.indexOf(msg.ID) >= 0 {
		s.mu.Unlock()
		return false, nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.IsStreaming = false

	n := len(s.state.Messages)
	if n > 0 && s.state.Messages[n-1].IsStreaming {
		s.state.Messages = slices.Insert(s.state.Messages, n-1, msg)
	} else {
		s.state.Messages = append(s.state.Messages, msg)
	}
	evs := []event.Event{s.createdEvent(msg), s.updatedEvent()}
	msgs := types.CloneMessages(s.state.Messages)
	s.mu.Unlock()

	s.save(ctx, msgs)
	s.emit(evs...)
	return true, nil
}
