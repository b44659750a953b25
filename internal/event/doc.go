/*
Package event provides the in-process pub/sub bus that carries session state
changes to whatever renders them.

Subscribers registered with Bus.Subscribe or Bus.SubscribeAll receive typed Event
values by direct call. Consumers that need a serialized feed, such as the
mock server's SSE endpoint, call Bus.Stream and read JSON Envelopes off a
watermill gochannel topic.

# Event Types

Session events:
  - session.created, session.deleted: a remote session was created or removed
  - session.updated: loading/streaming flags or retry count changed
  - session.retry: an attempt failed and a retry is scheduled
  - session.error: an exchange ended with a SessionError
  - session.idle: an exchange ended, for any reason

Message events:
  - message.created: a message was appended
  - message.updated: content changed (Delta set while streaming)
  - message.removed: a message was deleted

# Basic Usage

	bus := event.NewBus()
	unsub := bus.Subscribe(event.MessageUpdated, func(e event.Event) {
		data := e.Data.(event.MessageUpdatedData)
		fmt.Print(data.Delta)
	})
	defer unsub()

Publish delivers asynchronously, one goroutine per subscriber. PublishSync
delivers in order on the caller's goroutine; the session store uses it so a
renderer sees deltas in decode order.
*/
package event
