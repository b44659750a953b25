package chat

import (
	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// emit delivers events in order on the caller's goroutine. Never call with
// mu held: subscribers may read the store.
func (s *Store) emit(events ...event.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		s.bus.PublishSync(e)
	}
}

// Event constructors. Callers hold mu, so each captures a copy.

func (s *Store) updatedEvent() event.Event {
	return event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{
		SessionID:   s.sessionID,
		IsLoading:   s.state.IsLoading,
		IsStreaming: s.state.IsStreaming,
		RetryCount:  s.state.RetryCount,
		Messages:    len(s.state.Messages),
	}}
}

func (s *Store) createdEvent(msg types.Message) event.Event {
	return event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{SessionID: s.sessionID, Info: &msg}}
}

func (s *Store) messageEvent(msg types.Message, delta string) event.Event {
	return event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{SessionID: s.sessionID, Info: &msg, Delta: delta}}
}

func (s *Store) removedEvent(id string) event.Event {
	return event.Event{Type: event.MessageRemoved, Data: event.MessageRemovedData{SessionID: s.sessionID, MessageID: id}}
}

func (s *Store) idleEvent() event.Event {
	return event.Event{Type: event.SessionIdle, Data: event.SessionIdleData{SessionID: s.sessionID}}
}

func (s *Store) errorEvent(err *types.SessionError) event.Event {
	e := *err
	return event.Event{Type: event.SessionError, Data: event.SessionErrorData{SessionID: s.sessionID, Error: &e}}
}
