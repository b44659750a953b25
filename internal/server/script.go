package server

import (
	"sync"
	"time"

	"github.com/opencode-ai/chatstream/internal/transport"
)

// Reply is one scripted answer of the generation endpoint.
type Reply struct {
	// Status, when not 2xx, fails the request with that code.
	Status int
	// Chunks are written and flushed one by one, verbatim, so a test controls
	// exactly where the byte stream splits.
	Chunks []string
	// Delay is slept before each chunk.
	Delay time.Duration
	// Hang keeps the response open after the last chunk until the client
	// goes away.
	Hang bool
}

// Frames builds the chunks for a reply that sends each fragment as its own
// data frame.
func Frames(fragments ...string) []string {
	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = frame(f)
	}
	return out
}

// Script is a FIFO of scripted replies. When it is empty the server echoes.
type Script struct {
	mu       sync.Mutex
	replies  []Reply
	calls    int
	requests []transport.Request
}

// NewScript creates an empty script.
func NewScript() *Script {
	return &Script{}
}

// Enqueue appends replies to the queue.
func (s *Script) Enqueue(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// next records req and pops the next reply.
func (s *Script) next(req transport.Request) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return Reply{}, false
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, true
}

// Calls returns the number of generation requests received.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns every generation request received, oldest first.
func (s *Script) Requests() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Request(nil), s.requests...)
}

// Pending returns the number of replies not yet served.
func (s *Script) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
