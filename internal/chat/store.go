// Package chat implements the session store: the single owner of a
// conversation's state, which runs one streaming exchange at a time against
// the generation endpoint.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/chatstream/internal/cache"
	"github.com/opencode-ai/chatstream/internal/cancel"
	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/logging"
	"github.com/opencode-ai/chatstream/internal/msgstore"
	"github.com/opencode-ai/chatstream/internal/retry"
	"github.com/opencode-ai/chatstream/internal/stream"
	"github.com/opencode-ai/chatstream/internal/transport"
	"github.com/opencode-ai/chatstream/pkg/types"
)

var (
	ErrEmptyContent     = errors.New("message content is empty")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMessageStreaming = errors.New("message is still streaming")
)

// RequestMode selects what an exchange request carries besides the new
// user content.
type RequestMode string

const (
	// ModeLatest sends only the new content.
	ModeLatest RequestMode = "latest"
	// ModeFull also sends every finalized message before it.
	ModeFull RequestMode = "full"
)

// Option configures a Store.
type Option func(*Store)

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithCache mirrors the message list into c after every structural change.
func WithCache(c *cache.Synchronizer) Option {
	return func(s *Store) { s.cache = c }
}

// WithMessageStore persists messages remotely. An empty sessionID makes the
// store create a session on the first send.
func WithMessageStore(c msgstore.Client, sessionID string) Option {
	return func(s *Store) {
		s.remote = c
		s.sessionID = sessionID
	}
}

// WithSessionID sets the id sent with exchange requests when no message
// store is configured.
func WithSessionID(id string) Option {
	return func(s *Store) { s.sessionID = id }
}

// WithBus publishes state changes on bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithRequestMode sets what exchange requests carry.
func WithRequestMode(m RequestMode) Option {
	return func(s *Store) { s.mode = m }
}

// WithFramerOptions configures the stream decoder of every exchange.
func WithFramerOptions(opts ...stream.FramerOption) Option {
	return func(s *Store) { s.framerOpts = opts }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the SessionState of one conversation. All methods are safe for
// concurrent use; at most one exchange runs at a time.
type Store struct {
	transport  transport.Transport
	policy     retry.Policy
	cache      *cache.Synchronizer
	remote     msgstore.Client
	bus        *event.Bus
	mode       RequestMode
	framerOpts []stream.FramerOption
	now        func() time.Time
	log        zerolog.Logger

	mu        sync.Mutex
	state     types.SessionState
	active    *exchange
	sessionID string
}

// exchange is the bookkeeping of one in-flight Send.
type exchange struct {
	token       *cancel.Token
	done        chan struct{}
	userID      string
	assistantID string
}

// New creates a store seeded from the cache, if one is configured.
func New(ctx context.Context, t transport.Transport, opts ...Option) *Store {
	s := &Store{
		transport: t,
		policy:    retry.DefaultPolicy(),
		mode:      ModeLatest,
		now:       time.Now,
		log:       logging.Component("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.remote == nil && s.sessionID == "" {
		s.sessionID = "local_" + s.newID()
	}
	s.state.Messages = []types.Message{}
	if s.cache != nil {
		s.state.Messages = s.cache.Load(ctx)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SessionID returns the id exchanges are tagged with.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Active reports whether an exchange is running or still unwinding.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Wait blocks until no exchange is running.
func (s *Store) Wait() {
	for {
		s.mu.Lock()
		ex := s.active
		s.mu.Unlock()
		if ex == nil {
			return
		}
		<-ex.done
	}
}

func (s *Store) newID() string {
	return ulid.Make().String()
}

// indexOf returns the position of the message with id, or -1. Callers hold mu.
func (s *Store) indexOf(id string) int {
	for i := len(s.state.Messages) - 1; i >= 0; i-- {
		if s.state.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// save writes msgs to the cache, if configured. Never call with mu held.
func (s *Store) save(ctx context.Context, msgs []types.Message) {
	if s.cache != nil {
		s.cache.Save(context.WithoutCancel(ctx), msgs)
	}
}
