package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/opencode-ai/chatstream/internal/cancel"
	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/retry"
	"github.com/opencode-ai/chatstream/internal/stream"
	"github.com/opencode-ai/chatstream/internal/transport"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// Send appends content as a user message and streams the assistant reply
// into a placeholder message, retrying transient failures. It returns when
// the exchange ends.
//
// A running exchange is cancelled and awaited first. Send returns nil on
// success and when the exchange is cancelled through Cancel, a
// *types.SessionError when it fails, and ctx.Err() when ctx ends it.
func (s *Store) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	ex, history := s.claim(ctx, content)
	defer s.release(ex)

	sessionID := s.ensureSession(ex.token.Context(), content)
	s.syncMessage(ex, ex.userID)

	req := &transport.Request{SessionID: sessionID, Content: content, Messages: history}
	return s.run(ctx, ex, req)
}

// claim installs a new exchange, cancelling and awaiting any running one.
func (s *Store) claim(ctx context.Context, content string) (*exchange, []types.Message) {
	for {
		s.mu.Lock()
		prev := s.active
		if prev == nil {
			break
		}
		evs, msgs, changed := s.cancelLocked()
		s.mu.Unlock()

		if changed {
			s.log.Debug().Msg("replacing running exchange")
			s.save(ctx, msgs)
			s.emit(evs...)
		}
		<-prev.done
	}

	var history []types.Message
	if s.mode == ModeFull {
		history = types.CloneMessages(s.state.Messages)
	}

	now := s.now()
	user := types.Message{ID: s.newID(), Role: types.RoleUser, Content: content, CreatedAt: now}
	reply := types.Message{ID: s.newID(), Role: types.RoleAssistant, CreatedAt: now, IsStreaming: true}
	s.state.Messages = append(s.state.Messages, user, reply)
	s.state.IsLoading = true
	s.state.IsStreaming = true
	s.state.Error = nil
	s.state.RetryCount = 0

	ex := &exchange{
		token:       cancel.New(ctx),
		done:        make(chan struct{}),
		userID:      user.ID,
		assistantID: reply.ID,
	}
	s.active = ex

	evs := []event.Event{s.createdEvent(user), s.createdEvent(reply), s.updatedEvent()}
	s.mu.Unlock()

	s.emit(evs...)
	return ex, history
}

// release retires ex and wakes anyone waiting on it.
func (s *Store) release(ex *exchange) {
	s.mu.Lock()
	if s.active == ex {
		s.active = nil
	}
	s.mu.Unlock()
	ex.token.Release()
	close(ex.done)
}

// run drives the attempts of one exchange through the retry controller.
func (s *Store) run(ctx context.Context, ex *exchange, req *transport.Request) error {
	ctrl := retry.NewController(ex.token.Context(), s.policy)
	log := s.log.With().Str("sessionID", req.SessionID).Str("messageID", ex.assistantID).Logger()

	for {
		if err := ctrl.Begin(); err != nil {
			return err
		}
		if !s.startAttempt(ex, ctrl.Attempts()) {
			return s.interrupted(ctx, ex)
		}

		err := s.attempt(ex, req)
		if err == nil {
			_ = ctrl.Succeed()
			s.succeed(ex)
			return nil
		}
		if ex.token.Context().Err() != nil {
			return s.interrupted(ctx, ex)
		}

		delay, ferr := ctrl.Fail(err)
		if ferr != nil {
			if cancel.IsCancellation(ferr) {
				return s.interrupted(ctx, ex)
			}
			log.Error().Err(ferr).Int("attempts", ctrl.Attempts()).Msg("exchange failed")
			return s.fail(ex, ferr)
		}

		log.Warn().Err(err).Int("attempt", ctrl.Attempts()).Dur("delay", delay).Msg("attempt failed, retrying")
		if !s.scheduleRetry(ex, ctrl, delay, err) {
			return s.interrupted(ctx, ex)
		}
		if err := ctrl.Wait(ex.token.Context(), delay); err != nil {
			return s.interrupted(ctx, ex)
		}
	}
}

// attempt issues one request and folds every decoded fragment into the
// placeholder.
func (s *Store) attempt(ex *exchange, req *transport.Request) error {
	body, err := s.transport.Stream(ex.token.Context(), req)
	if err != nil {
		return err
	}
	dec := stream.NewDecoder(body, s.framerOpts...)
	defer dec.Close()

	for fragment := range dec.All() {
		if !s.appendFragment(ex, fragment) {
			return cancel.ErrCancelled
		}
	}
	return dec.Err()
}

// startAttempt clears content left by a failed previous attempt.
func (s *Store) startAttempt(ex *exchange, attempt int) bool {
	s.mu.Lock()
	if ex.token.Cancelled() {
		s.mu.Unlock()
		return false
	}
	idx := s.indexOf(ex.assistantID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	var evs []event.Event
	if attempt > 1 && s.state.Messages[idx].Content != "" {
		s.state.Messages[idx].Content = ""
		evs = append(evs, s.messageEvent(s.state.Messages[idx], ""))
	}
	s.mu.Unlock()

	s.emit(evs...)
	return true
}

func (s *Store) appendFragment(ex *exchange, fragment string) bool {
	s.mu.Lock()
	if ex.token.Cancelled() {
		s.mu.Unlock()
		return false
	}
	idx := s.indexOf(ex.assistantID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.state.Messages[idx].Content += fragment
	ev := s.messageEvent(s.state.Messages[idx], fragment)
	s.mu.Unlock()

	s.emit(ev)
	return true
}

func (s *Store) scheduleRetry(ex *exchange, ctrl *retry.Controller, delay time.Duration, cause error) bool {
	s.mu.Lock()
	if ex.token.Cancelled() {
		s.mu.Unlock()
		return false
	}
	s.state.RetryCount = ctrl.Attempts()
	retryEv := event.Event{Type: event.SessionRetry, Data: event.SessionRetryData{
		SessionID:  s.sessionID,
		Attempt:    ctrl.Attempts(),
		MaxRetries: ctrl.Context().MaxRetries,
		Delay:      delay,
		Reason:     cause.Error(),
	}}
	evs := []event.Event{s.updatedEvent(), retryEv}
	s.mu.Unlock()

	s.emit(evs...)
	return true
}

// succeed finalizes the placeholder and persists the result.
func (s *Store) succeed(ex *exchange) {
	s.mu.Lock()
	if ex.token.Cancelled() {
		s.mu.Unlock()
		return
	}
	s.finalizeLocked(ex)
	s.state.RetryCount = 0
	s.state.Error = nil
	s.mu.Unlock()

	s.syncMessage(ex, ex.assistantID)

	s.mu.Lock()
	if ex.token.Cancelled() {
		s.mu.Unlock()
		return
	}
	var evs []event.Event
	if idx := s.indexOf(ex.assistantID); idx >= 0 {
		evs = append(evs, s.messageEvent(s.state.Messages[idx], ""))
	}
	evs = append(evs, s.updatedEvent(), s.idleEvent())
	msgs := types.CloneMessages(s.state.Messages)
	s.mu.Unlock()

	s.save(ex.token.Context(), msgs)
	s.emit(evs...)
}

// fail records the terminal error, keeping whatever content streamed.
func (s *Store) fail(ex *exchange, cause error) error {
	serr := sessionError(cause)

	s.mu.Lock()
	if ex.token.Cancelled() {
		s.mu.Unlock()
		return nil
	}
	s.finalizeLocked(ex)
	s.state.Error = serr

	var evs []event.Event
	if idx := s.indexOf(ex.assistantID); idx >= 0 {
		evs = append(evs, s.messageEvent(s.state.Messages[idx], ""))
	}
	evs = append(evs, s.updatedEvent(), s.errorEvent(serr), s.idleEvent())
	msgs := types.CloneMessages(s.state.Messages)
	s.mu.Unlock()

	s.save(ex.token.Context(), msgs)
	s.emit(evs...)
	return serr
}

// interrupted ends an exchange whose context is done. A Cancel has already
// cleaned up; a done parent context has not.
func (s *Store) interrupted(ctx context.Context, ex *exchange) error {
	if ex.token.Cancelled() {
		return nil
	}

	s.mu.Lock()
	var (
		evs     []event.Event
		msgs    []types.Message
		changed bool
	)
	if s.active == ex {
		evs, msgs, changed = s.cancelLocked()
	}
	s.mu.Unlock()

	if changed {
		s.save(ctx, msgs)
		s.emit(evs...)
	}
	return ctx.Err()
}

// finalizeLocked clears the streaming flags of ex. Callers hold mu.
func (s *Store) finalizeLocked(ex *exchange) {
	if idx := s.indexOf(ex.assistantID); idx >= 0 {
		s.state.Messages[idx].IsStreaming = false
	}
	s.state.IsLoading = false
	s.state.IsStreaming = false
}

// cancelLocked cancels the active exchange and finalizes its placeholder.
// It reports false when there was nothing to cancel. Callers hold mu.
func (s *Store) cancelLocked() ([]event.Event, []types.Message, bool) {
	ex := s.active
	if ex == nil || ex.token.Cancelled() {
		return nil, nil, false
	}
	ex.token.Cancel()

	var evs []event.Event
	if idx := s.indexOf(ex.assistantID); idx >= 0 && s.state.Messages[idx].IsStreaming {
		s.state.Messages[idx].IsStreaming = false
		evs = append(evs, s.messageEvent(s.state.Messages[idx], ""))
	}
	wasLoading := s.state.IsLoading
	s.state.IsLoading = false
	s.state.IsStreaming = false
	evs = append(evs, s.updatedEvent())
	if wasLoading {
		evs = append(evs, s.idleEvent())
	}
	return evs, types.CloneMessages(s.state.Messages), true
}

// sessionError converts a terminal controller error into the error slot value.
func sessionError(err error) *types.SessionError {
	serr := &types.SessionError{Kind: types.ErrorPermanent, Message: err.Error()}

	var f *retry.Failure
	if errors.As(err, &f) {
		serr.Attempts = f.Attempts
		if f.Exhausted {
			serr.Kind = types.ErrorExhausted
		}
	}
	var sc retry.StatusCoder
	if errors.As(err, &sc) {
		serr.StatusCode = sc.StatusCode()
	}
	return serr
}
