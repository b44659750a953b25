package cache

import (
	"context"
	"sync"
)

// MemorySlot keeps the blob in memory. ReadErr and WriteErr, when set, are
// returned instead of touching the data.
type MemorySlot struct {
	mu       sync.Mutex
	data     []byte
	writes   int
	ReadErr  error
	WriteErr error
}

// NewMemorySlot creates an empty slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	if s.data == nil {
		return nil, ErrEmpty
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemorySlot) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemorySlot) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *MemorySlot) Close() error { return nil }

// Set replaces the stored bytes, bypassing WriteErr.
func (s *MemorySlot) Set(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

// Writes returns the number of Write calls, including failed ones.
func (s *MemorySlot) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type nopSlot struct{}

func (nopSlot) Read(context.Context) ([]byte, error) { return nil, ErrEmpty }
func (nopSlot) Write(context.Context, []byte) error  { return nil }
func (nopSlot) Remove(context.Context) error         { return nil }
func (nopSlot) Close() error                         { return nil }
