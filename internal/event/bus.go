package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/chatstream/internal/logging"
)

// Topic is the watermill topic carrying JSON-encoded events.
const Topic = "chatstream.events"

// anyType matches every event in a subscription.
const anyType EventType = ""

// Event is a typed value published on a Bus.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Envelope is the wire form of an event on Topic.
type Envelope struct {
	Type       EventType `json:"type"`
	Properties any       `json:"properties"`
}

// Subscriber receives events.
type Subscriber func(event Event)

type subscription struct {
	id   uint64
	kind EventType
	fn   Subscriber
}

// Bus delivers events two ways: typed values to in-process subscribers by
// direct call, and a JSON copy on Topic for stream consumers such as the
// server's SSE endpoint. The JSON copy is only encoded while a stream is
// open.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool

	pubsub  *gochannel.GoChannel
	streams atomic.Int32
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe func.
func (b *Bus) Subscribe(kind EventType, fn Subscriber) func() {
	return b.add(kind, fn)
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add(anyType, fn)
}

func (b *Bus) add(kind EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: fn})
	return func() { b.remove(id) }
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// matching snapshots the subscribers of kind in registration order.
func (b *Bus) matching(kind EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	var fns []Subscriber
	for _, s := range b.subs {
		if s.kind == anyType || s.kind == kind {
			fns = append(fns, s.fn)
		}
	}
	return fns, true
}

// Publish calls each subscriber in its own goroutine and forwards the event
// to Topic.
func (b *Bus) Publish(e Event) {
	fns, ok := b.matching(e.Type)
	if !ok {
		return
	}
	for _, fn := range fns {
		go fn(e)
	}
	b.forward(e)
}

// PublishSync calls every subscriber on the caller's goroutine, in
// registration order, then forwards the event to Topic.
func (b *Bus) PublishSync(e Event) {
	fns, ok := b.matching(e.Type)
	if !ok {
		return
	}
	for _, fn := range fns {
		fn(e)
	}
	b.forward(e)
}

func (b *Bus) forward(e Event) {
	if b.streams.Load() == 0 {
		return
	}
	payload, err := json.Marshal(Envelope{Type: e.Type, Properties: e.Data})
	if err != nil {
		logging.Debug().Err(err).Str("eventType", string(e.Type)).Msg("event not encodable, skipping stream")
		return
	}
	if err := b.pubsub.Publish(Topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		logging.Debug().Err(err).Msg("event stream publish failed")
	}
}

// Stream subscribes to the JSON copy of every event published after the
// call. The channel closes when ctx is done or the bus closes. Each message
// must be acked before the next one is delivered.
func (b *Bus) Stream(ctx context.Context) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	b.streams.Add(1)
	go func() {
		<-ctx.Done()
		b.streams.Add(-1)
	}()
	return msgs, nil
}

// Close drops every subscriber and closes the stream topic. Closing twice is
// a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
