package cache

import (
	"context"
	"errors"

	"github.com/opencode-ai/chatstream/internal/storage"
)

// FileSlot stores the blob as <dir>/cache/<key>.json.
type FileSlot struct {
	store *storage.Storage
	path  []string
}

// NewFileSlot creates a slot rooted at dir.
func NewFileSlot(dir, key string) *FileSlot {
	return &FileSlot{
		store: storage.New(dir),
		path:  []string{"cache", key},
	}
}

func (s *FileSlot) Read(ctx context.Context) ([]byte, error) {
	data, err := s.store.Read(ctx, s.path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrEmpty
	}
	return data, err
}

func (s *FileSlot) Write(ctx context.Context, data []byte) error {
	return s.store.Write(ctx, s.path, data)
}

func (s *FileSlot) Remove(ctx context.Context) error {
	return s.store.Delete(ctx, s.path)
}

func (s *FileSlot) Close() error { return nil }
